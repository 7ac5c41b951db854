package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"acmeshop/internal/domain"
	"acmeshop/internal/idempotency"
	"acmeshop/internal/service"
)

// HeaderIdempotencyKey повторный POST /orders с тем же ключом вернёт уже созданный заказ
const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

// Pinger зависимость, проверяемая в /healthz
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	engine   *gin.Engine
	products *service.ProductService
	orders   *service.OrderService
	idem     idempotency.Store
	log      *zap.Logger
	checks   map[string]Pinger
}

type Option func(*Server)

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

func WithIdempotencyStore(st idempotency.Store) Option {
	return func(s *Server) { s.idem = st }
}

func WithHealthCheck(name string, p Pinger) Option {
	return func(s *Server) { s.checks[name] = p }
}

func NewServer(products *service.ProductService, orders *service.OrderService, opts ...Option) *Server {
	s := &Server{
		products: products,
		orders:   orders,
		log:      zap.NewNop(),
		checks:   make(map[string]Pinger),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idem == nil {
		s.idem = idempotency.NewMemoryStore(idempotency.DefaultTTL)
	}

	r := gin.New()
	r.Use(tracing(), requestLogger(s.log), gin.Recovery())
	s.engine = r
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) registerRoutes() {
	// Swagger UI
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	s.engine.GET("/healthz", s.healthz)

	v1 := s.engine.Group("/api/v1")
	{
		products := v1.Group("/products")
		products.POST("", s.createProduct)
		products.GET(":id", s.getProduct)
		products.PUT(":id", s.updateProduct)
		products.GET("", s.listProducts)

		orders := v1.Group("/orders")
		orders.POST("", s.createOrder)
		orders.GET(":id", s.getOrder)
		orders.GET("", s.listOrders)
	}
}

// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /healthz [get]
func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body[name] = err.Error()
			continue
		}
		body[name] = "ok"
	}
	c.JSON(status, body)
}

// Product handlers
type productReq struct {
	SKU   string           `json:"sku"`
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price" swaggertype:"string" example:"10.00"`
	Stock *int64           `json:"stock" example:"5"`
}

func (r productReq) input() (service.ProductInput, error) {
	if r.Price == nil {
		return service.ProductInput{}, domain.Validationf("price is required")
	}
	if r.Stock == nil {
		return service.ProductInput{}, domain.Validationf("stock is required")
	}
	return service.ProductInput{SKU: r.SKU, Name: r.Name, Price: r.Price.String(), Stock: *r.Stock}, nil
}

// @Summary Create product
// @Tags products
// @Accept json
// @Produce json
// @Param input body productReq true "Product"
// @Success 201 {object} productResp
// @Failure 400 {object} map[string]string
// @Router /api/v1/products [post]
func (s *Server) createProduct(c *gin.Context) {
	var req productReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(c, err)
		return
	}
	p, err := s.products.Create(c.Request.Context(), in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProductResp(*p))
}

// @Summary Get product by id
// @Tags products
// @Produce json
// @Param id path int true "Product ID"
// @Success 200 {object} productResp
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/products/{id} [get]
func (s *Server) getProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	p, err := s.products.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResp(*p))
}

// @Summary Update product
// @Tags products
// @Accept json
// @Produce json
// @Param id path int true "Product ID"
// @Param input body productReq true "Product"
// @Success 200 {object} productResp
// @Failure 400 {object} map[string]string
// @Router /api/v1/products/{id} [put]
func (s *Server) updateProduct(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req productReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(c, err)
		return
	}
	p, err := s.products.Update(c.Request.Context(), id, in)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResp(*p))
}

// @Summary List products
// @Tags products
// @Produce json
// @Success 200 {array} productResp
// @Router /api/v1/products [get]
func (s *Server) listProducts(c *gin.Context) {
	list, err := s.products.List(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]productResp, 0, len(list))
	for _, p := range list {
		out = append(out, toProductResp(p))
	}
	c.JSON(http.StatusOK, out)
}

// Order handlers
type orderLineReq struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type createOrderReq struct {
	Items []orderLineReq `json:"items"`
}

// @Summary Place order
// @Description Списывает остатки и создаёт заказ в одной транзакции.
// @Tags orders
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key"
// @Param input body createOrderReq true "Order"
// @Success 201 {object} orderResp
// @Success 200 {object} orderResp "replayed by Idempotency-Key"
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/orders [post]
func (s *Server) createOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ctx := c.Request.Context()

	key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
	claimed := false
	if key != "" {
		ok, err := s.idem.Claim(ctx, key)
		switch {
		case err != nil:
			// хранилище ключей недоступно: заказ всё равно принимаем
			s.log.Warn("idempotency claim failed", zap.String("key", key), zap.Error(err))
		case ok:
			claimed = true
		default:
			s.replayOrder(c, key)
			return
		}
	}

	lines := make([]service.OrderLine, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, service.OrderLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	o, err := s.orders.PlaceOrder(ctx, lines)
	// ключ обновляется даже если клиент уже отключился
	idemCtx := context.WithoutCancel(ctx)
	if err != nil {
		if claimed {
			if rerr := s.idem.Release(idemCtx, key); rerr != nil {
				s.log.Warn("idempotency release failed", zap.String("key", key), zap.Error(rerr))
			}
		}
		s.writeError(c, err)
		return
	}
	if claimed {
		if err := s.idem.Complete(idemCtx, key, o.ID); err != nil {
			s.log.Warn("idempotency complete failed", zap.String("key", key), zap.Int64("order_id", o.ID), zap.Error(err))
		}
	}
	c.JSON(http.StatusCreated, toOrderResp(*o))
}

// replayOrder отвечает на повтор запроса с уже занятым ключом
func (s *Server) replayOrder(c *gin.Context, key string) {
	ctx := c.Request.Context()
	e, found, err := s.idem.Lookup(ctx, key)
	if err != nil {
		s.log.Error("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
		return
	}
	if !found || e.Pending {
		c.JSON(http.StatusConflict, gin.H{"error": "request with this Idempotency-Key is in progress, retry later"})
		return
	}
	o, err := s.orders.GetOrder(ctx, e.OrderID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header(HeaderReplayed, "true")
	c.JSON(http.StatusOK, toOrderResp(*o))
}

// @Summary Get order by id
// @Tags orders
// @Produce json
// @Param id path int true "Order ID"
// @Success 200 {object} orderResp
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/orders/{id} [get]
func (s *Server) getOrder(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	o, err := s.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResp(*o))
}

// @Summary List orders
// @Tags orders
// @Produce json
// @Success 200 {array} orderSummaryResp
// @Router /api/v1/orders [get]
func (s *Server) listOrders(c *gin.Context) {
	list, err := s.orders.ListOrders(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]orderSummaryResp, 0, len(list))
	for _, o := range list {
		out = append(out, orderSummaryResp{ID: o.ID, ItemsCount: len(o.Items), Total: money(o.Total())})
	}
	c.JSON(http.StatusOK, out)
}

func parseID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := mapErrorToStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func mapErrorToStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOutOfStock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
