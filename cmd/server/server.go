package main

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/yourorg/paygate/internal/gateway"
	"github.com/yourorg/paygate/internal/order"
	"github.com/yourorg/paygate/internal/orchestrator"
	"github.com/yourorg/paygate/internal/reporting"
)

// bankPageTemplate renders the auto-submit form that carries the payer
// into the bank's payment page.
const bankPageTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting to bank</title></head>
<body onload="document.getElementById('bank-form').submit()">
<form id="bank-form" method="post" action="{{ .Action }}">
{{- range $name, $value := .Fields }}
<input type="hidden" name="{{ $name }}" value="{{ $value }}">
{{- end }}
<noscript><input type="submit" value="Continue to bank"></noscript>
</form>
</body>
</html>`

// Server wires the HTTP surface to the orchestration core. Request
// authentication proper is an external collaborator; here the resolved
// tenant arrives as the X-Service-ID header.
type Server struct {
	orch     *orchestrator.Orchestrator
	orders   order.Repository
	gateways gateway.Repository
	baseURL  string
	log      *zap.SugaredLogger
}

func NewServer(orch *orchestrator.Orchestrator, orders order.Repository, gateways gateway.Repository, baseURL string, log *zap.SugaredLogger) *Server {
	return &Server{
		orch:     orch,
		orders:   orders,
		gateways: gateways,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log,
	}
}

func (s *Server) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("paygate"))
	engine.SetHTMLTemplate(template.Must(template.New("bankpage").Parse(bankPageTemplate)))

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Payer-facing bank flow: no service credential on these.
	engine.GET("/pay", s.bankPage)
	engine.POST("/pay", s.bankCallback)

	api := engine.Group("/api", s.serviceAuth)
	api.POST("/orders", s.createOrder)
	api.GET("/orders", s.listOrders)
	api.GET("/gateways", s.listGateways)
	api.POST("/purchase/gateway", s.purchaseGateway)
	api.POST("/purchase/verify", s.verifyPurchase)
	api.GET("/reports/settlement", s.settlementReport)

	return engine
}

// serviceAuth stands in for the external bearer-token-to-tenant lookup.
func (s *Server) serviceAuth(c *gin.Context) {
	serviceID := c.GetHeader("X-Service-ID")
	if serviceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "service credential required"})
		return
	}
	c.Set("serviceID", serviceID)
}

type createOrderRequest struct {
	GatewayKind      string `json:"gateway_kind" binding:"required"`
	ServiceReference string `json:"service_reference" binding:"required"`
	Price            uint64 `json:"price" binding:"required"`
	Properties       struct {
		RedirectURL string `json:"redirect_url"`
		PhoneNumber string `json:"phone_number"`
		PackageName string `json:"package_name"`
		SKU         string `json:"sku"`
	} `json:"properties"`
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	kind, err := gateway.ParseKind(req.GatewayKind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	ord, err := s.orch.CreateOrder(c.Request.Context(), c.GetString("serviceID"), kind, req.ServiceReference, req.Price, order.Properties{
		RedirectURL: req.Properties.RedirectURL,
		PhoneNumber: req.Properties.PhoneNumber,
		PackageName: req.Properties.PackageName,
		SKU:         req.Properties.SKU,
	})
	switch {
	case errors.Is(err, order.ErrDuplicateReference):
		c.JSON(http.StatusConflict, gin.H{"detail": "order with this service reference already exists"})
	case errors.Is(err, order.ErrGatewayMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "service and gateway do not match"})
	case errors.Is(err, order.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case err != nil:
		s.log.Errorw("order creation failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
	default:
		c.JSON(http.StatusCreated, orderView(ord))
	}
}

func (s *Server) listOrders(c *gin.Context) {
	orders, err := s.orders.ListByService(c.Request.Context(), c.GetString("serviceID"))
	if err != nil {
		s.log.Errorw("listing orders failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	out := make([]gin.H, 0, len(orders))
	for i := range orders {
		out = append(out, orderView(&orders[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listGateways(c *gin.Context) {
	instances, err := s.gateways.ListForService(c.Request.Context(), c.GetString("serviceID"))
	if err != nil {
		s.log.Errorw("listing gateways failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	out := make([]gin.H, 0, len(instances))
	for _, inst := range instances {
		if !inst.Enabled {
			continue
		}
		out = append(out, gin.H{
			"id":           inst.ID,
			"kind":         inst.Kind,
			"display_name": inst.DisplayName,
		})
	}
	c.JSON(http.StatusOK, out)
}

type purchaseGatewayRequest struct {
	ServiceReference string `json:"service_reference" binding:"required"`
}

// purchaseGateway hands the service the hub's own bank page URL for an
// order; the service sends the payer there.
func (s *Server) purchaseGateway(c *gin.Context) {
	var req purchaseGatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	serviceID := c.GetString("serviceID")
	ord, err := s.orders.GetByReference(c.Request.Context(), serviceID, req.ServiceReference)
	if errors.Is(err, order.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "order not found"})
		return
	}
	if err != nil {
		s.log.Errorw("loading order failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	if ord.Status.Terminal() {
		c.JSON(http.StatusNotFound, gin.H{"detail": "order not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"gateway_url": s.baseURL + "/pay?service=" + serviceID + "&reference=" + req.ServiceReference,
	})
}

// bankPage initiates the payment and carries the payer toward the
// provider: an auto-submit form for the direct-redirect bank, a 302 for
// the two-phase bank. Failures render an empty page rather than an error
// page; the payer retries from the originating service.
func (s *Server) bankPage(c *gin.Context) {
	serviceID := c.Query("service")
	reference := c.Query("reference")
	if serviceID == "" || reference == "" {
		c.String(http.StatusOK, "")
		return
	}

	payload, err := s.orch.Initiate(c.Request.Context(), serviceID, reference)
	if err != nil {
		s.log.Warnw("initiation failed", "service_id", serviceID, "reference", reference, "err", err)
		c.String(http.StatusOK, "")
		return
	}
	switch {
	case payload.FormAction != "":
		c.HTML(http.StatusOK, "bankpage", gin.H{
			"Action": payload.FormAction,
			"Fields": payload.FormFields,
		})
	case payload.RedirectURL != "":
		c.Redirect(http.StatusFound, payload.RedirectURL)
	default:
		c.JSON(http.StatusOK, gin.H{"transaction_id": payload.TransactionID})
	}
}

// bankCallback settles a provider callback and redirects the payer back
// to the originating service with the outcome in the query string. The
// payer never sees a raw error page: anything that prevents settlement
// renders as purchase_verified=false.
func (s *Server) bankCallback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusOK, gin.H{"purchase_verified": false})
		return
	}
	fields := make(map[string]string, len(c.Request.PostForm))
	for name := range c.Request.PostForm {
		fields[name] = c.Request.PostForm.Get(name)
	}

	outcome, err := s.orch.HandleBankCallback(c.Request.Context(), fields)
	if err != nil {
		s.log.Warnw("bank callback rejected", "err", err)
		c.JSON(http.StatusOK, gin.H{"purchase_verified": false})
		return
	}
	if outcome.RedirectURL != "" {
		c.Redirect(http.StatusFound, outcome.RedirectURL)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"purchase_verified": outcome.Verified,
		"transaction_id":    outcome.TransactionID,
		"refNum":            outcome.ProviderReference,
	})
}

type verifyPurchaseRequest struct {
	ServiceReference string `json:"service_reference" binding:"required"`
	PurchaseToken    string `json:"purchase_token" binding:"required"`
}

func (s *Server) verifyPurchase(c *gin.Context) {
	var req verifyPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	outcome, err := s.orch.VerifyPurchase(c.Request.Context(), c.GetString("serviceID"), req.ServiceReference, req.PurchaseToken)
	switch {
	case errors.Is(err, order.ErrNotFound), errors.Is(err, order.ErrAlreadyFinalized):
		// A re-verification of a settled order is indistinguishable from
		// a missing order to the caller.
		c.JSON(http.StatusNotFound, gin.H{"detail": "no such order to verify"})
	case errors.Is(err, order.ErrGatewayMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid gateway"})
	case errors.Is(err, order.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case err != nil:
		s.log.Errorw("purchase verification failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
	default:
		c.JSON(http.StatusOK, gin.H{"purchase_verified": outcome.Verified})
	}
}

func (s *Server) settlementReport(c *gin.Context) {
	orders, err := s.orders.ListByService(c.Request.Context(), c.GetString("serviceID"))
	if err != nil {
		s.log.Errorw("loading orders for report failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal error"})
		return
	}
	records := make([]reporting.Record, 0, len(orders))
	for _, ord := range orders {
		records = append(records, reporting.Record{
			ServiceID:         ord.ServiceID,
			GatewayKind:       string(ord.GatewayKind),
			Status:            string(ord.Status),
			Price:             ord.Price,
			ProviderReference: ord.ReferenceID,
			UpdatedAt:         ord.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, reporting.NewSettlementReporter().Generate(records))
}

func orderView(ord *order.Order) gin.H {
	return gin.H{
		"service_reference": ord.ServiceReference,
		"transaction_id":    ord.TransactionID,
		"gateway_kind":      ord.GatewayKind,
		"price":             ord.Price,
		"status":            ord.Status,
		"reference_id":      ord.ReferenceID,
		"created_at":        ord.CreatedAt,
	}
}
