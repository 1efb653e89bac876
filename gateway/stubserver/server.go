// Package stubserver is an in-memory reference implementation of the remote
// store's HTTP contract. It exists for integration tests and local
// development; the real backend is a spreadsheet-backed service with the
// same surface. Row versioning follows the contract exactly: writes carrying
// a stale originalLastUpdated are rejected with ERR_VERSION_CONFLICT unless
// force is set.
package stubserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/shopsync/shopsync/entity"
	"github.com/shopsync/shopsync/logging"
)

type storedOrder struct {
	order       entity.Order
	lastUpdated int64
}

type storedCustomer struct {
	customer    entity.Customer
	lastUpdated int64
}

type storedProduct struct {
	product     entity.Product
	lastUpdated int64
}

// Server implements the remote store contract over an in-memory dataset.
type Server struct {
	router chi.Router
	logger *logging.Logger

	mu        sync.Mutex
	clock     int64
	customers map[string]*storedCustomer
	products  map[string]*storedProduct
	orders    map[string]*storedOrder
	password  string
	tokens    map[string]bool

	// batchRejects lists order ids the next batch settlement will refuse,
	// for exercising partial-failure handling in tests.
	batchRejects map[string]bool

	upgrader websocket.Upgrader
	connsMu  sync.Mutex
	conns    map[*websocket.Conn]bool
}

// New creates an empty stub server. password guards the login action; an
// empty password accepts any credentials.
func New(password string) *Server {
	s := &Server{
		logger:       logging.WithComponent("stubserver"),
		customers:    make(map[string]*storedCustomer),
		products:     make(map[string]*storedProduct),
		orders:       make(map[string]*storedOrder),
		password:     password,
		tokens:       make(map[string]bool),
		batchRejects: make(map[string]bool),
		conns:        make(map[*websocket.Conn]bool),
		upgrader:     websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", s.handlePull)
	r.Post("/", s.handleWrite)
	r.Get("/changes", s.handleChanges)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// next returns a fresh monotonically-increasing version stamp.
func (s *Server) next() int64 {
	now := time.Now().UnixMilli()
	if now <= s.clock {
		now = s.clock + 1
	}
	s.clock = now
	return now
}

// Seed installs records directly, assigning fresh version stamps.
// Intended for tests.
func (s *Server) Seed(customers []entity.Customer, products []entity.Product, orders []entity.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range customers {
		s.customers[c.ID] = &storedCustomer{customer: c, lastUpdated: s.next()}
	}
	for _, p := range products {
		s.products[p.ID] = &storedProduct{product: p, lastUpdated: s.next()}
	}
	for _, o := range orders {
		s.orders[o.ID] = &storedOrder{order: o, lastUpdated: s.next()}
	}
}

// OrderVersion reports the current stamp for an order id. Intended for tests.
func (s *Server) OrderVersion(id string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return 0, false
	}
	return o.lastUpdated, true
}

// RejectInBatch makes the next batchUpdatePaymentStatus refuse the given ids.
func (s *Server) RejectInBatch(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.batchRejects[id] = true
	}
}

// TouchOrder rewrites an order server-side, bumping its version, as if
// another client had edited it. Intended for tests.
func (s *Server) TouchOrder(id string, mutate func(*entity.Order)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false
	}
	if mutate != nil {
		mutate(&o.order)
	}
	o.lastUpdated = s.next()
	return true
}

func respond(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, msg, code string) {
	body := map[string]any{"success": false, "error": msg}
	if code != "" {
		body["errorCode"] = code
	}
	respond(w, body)
}

func respondData(w http.ResponseWriter, data any) {
	respond(w, map[string]any{"success": true, "data": data})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("type") != "init" {
		respondError(w, "unknown request type", "")
		return
	}
	startDate := r.URL.Query().Get("startDate")

	s.mu.Lock()
	defer s.mu.Unlock()

	customers := make([]map[string]any, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, map[string]any{
			"id": c.customer.ID, "name": c.customer.Name,
			"phone": c.customer.Phone, "address": c.customer.Address,
			"note": c.customer.Note, "lastUpdated": c.lastUpdated,
		})
	}

	products := make([]map[string]any, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, map[string]any{
			"id": p.product.ID, "name": p.product.Name, "unit": p.product.Unit,
			"price": p.product.Price, "sortOrder": p.product.SortOrder,
			"note": p.product.Note, "lastUpdated": p.lastUpdated,
		})
	}

	// Orders go out as flat line-item rows, one per item, bounded to the
	// requested window.
	orders := make([]map[string]any, 0)
	for _, o := range s.orders {
		if startDate != "" && o.order.DeliveryDate < startDate {
			continue
		}
		items := o.order.Items
		if len(items) == 0 {
			items = []entity.OrderItem{{}}
		}
		for _, it := range items {
			orders = append(orders, map[string]any{
				"id":            o.order.ID,
				"customerId":    o.order.CustomerID,
				"customerName":  o.order.CustomerName,
				"deliveryDate":  o.order.DeliveryDate,
				"status":        string(o.order.Status),
				"paymentStatus": string(o.order.PaymentStatus),
				"note":          o.order.Note,
				"lastUpdated":   o.lastUpdated,
				"productId":     it.ProductID,
				"productName":   it.ProductName,
				"quantity":      it.Quantity,
				"unit":          it.Unit,
				"price":         it.Price,
			})
		}
	}

	respondData(w, map[string]any{
		"customers": customers,
		"products":  products,
		"orders":    orders,
	})
}

type writeRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, fmt.Sprintf("malformed request: %v", err), "")
		return
	}

	switch req.Action {
	case "login":
		s.handleLogin(w, req.Data)
		return
	case "changePassword":
		s.handleChangePassword(w, req.Data)
		return
	}

	changed, handled := s.dispatch(w, req)
	if handled && changed {
		s.broadcast()
	}
}

// dispatch runs a mutating action under the store lock. It reports whether
// the dataset changed and whether a response was written.
func (s *Server) dispatch(w http.ResponseWriter, req writeRequest) (changed, handled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Action {
	case "createOrder":
		return s.createOrder(w, req.Data), true
	case "updateOrderContent":
		return s.updateOrderContent(w, req.Data), true
	case "updateOrderStatus":
		return s.updateOrderStatus(w, req.Data), true
	case "deleteOrder":
		return s.deleteOrder(w, req.Data), true
	case "batchUpdatePaymentStatus":
		return s.batchUpdatePaymentStatus(w, req.Data), true
	case "updateCustomer":
		return s.updateCustomer(w, req.Data), true
	case "deleteCustomer":
		return s.deleteCustomer(w, req.Data), true
	case "updateProduct":
		return s.updateProduct(w, req.Data), true
	case "deleteProduct":
		return s.deleteProduct(w, req.Data), true
	case "reorderProducts":
		return s.reorderProducts(w, req.Data), true
	default:
		respondError(w, "unknown action: "+req.Action, "")
		return false, true
	}
}

// versionOK applies the cooperative version check: a write against an
// existing record must carry the stored stamp, unless forced.
func versionOK(stored int64, claimed entity.Version, force bool) bool {
	if force {
		return true
	}
	if claimed.IsZero() {
		return stored == 0
	}
	return claimed.Stamp() == stored
}

type orderPayload struct {
	ID                  string               `json:"id"`
	CustomerID          string               `json:"customerId"`
	CustomerName        string               `json:"customerName"`
	DeliveryDate        string               `json:"deliveryDate"`
	Status              entity.OrderStatus   `json:"status"`
	PaymentStatus       entity.PaymentStatus `json:"paymentStatus"`
	Note                string               `json:"note"`
	Items               []entity.OrderItem   `json:"items"`
	OriginalLastUpdated entity.Version       `json:"originalLastUpdated"`
	Force               bool                 `json:"force"`
}

func (p orderPayload) order() entity.Order {
	return entity.Order{
		Meta:          entity.Meta{ID: p.ID},
		CustomerID:    p.CustomerID,
		CustomerName:  p.CustomerName,
		DeliveryDate:  p.DeliveryDate,
		Status:        p.Status,
		PaymentStatus: p.PaymentStatus,
		Note:          p.Note,
		Items:         p.Items,
	}
}

func (s *Server) createOrder(w http.ResponseWriter, data json.RawMessage) bool {
	var p orderPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		respondError(w, "invalid order payload", "")
		return false
	}
	if _, exists := s.orders[p.ID]; exists {
		respondError(w, "order already exists", "ERR_VERSION_CONFLICT")
		return false
	}
	stamp := s.next()
	s.orders[p.ID] = &storedOrder{order: p.order(), lastUpdated: stamp}
	respondData(w, map[string]any{"lastUpdated": stamp})
	return true
}

func (s *Server) updateOrderContent(w http.ResponseWriter, data json.RawMessage) bool {
	var p orderPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		respondError(w, "invalid order payload", "")
		return false
	}
	existing, ok := s.orders[p.ID]
	if !ok {
		respondError(w, "order not found", "")
		return false
	}
	if !versionOK(existing.lastUpdated, p.OriginalLastUpdated, p.Force) {
		respondError(w, "version mismatch", "ERR_VERSION_CONFLICT")
		return false
	}
	stamp := s.next()
	s.orders[p.ID] = &storedOrder{order: p.order(), lastUpdated: stamp}
	respondData(w, map[string]any{"lastUpdated": stamp})
	return true
}

type statusPayload struct {
	ID                  string             `json:"id"`
	Status              entity.OrderStatus `json:"status"`
	OriginalLastUpdated entity.Version     `json:"originalLastUpdated"`
	Force               bool               `json:"force"`
}

func (s *Server) updateOrderStatus(w http.ResponseWriter, data json.RawMessage) bool {
	var p statusPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		respondError(w, "invalid status payload", "")
		return false
	}
	existing, ok := s.orders[p.ID]
	if !ok {
		respondError(w, "order not found", "")
		return false
	}
	if !versionOK(existing.lastUpdated, p.OriginalLastUpdated, p.Force) {
		respondError(w, "version mismatch", "ERR_VERSION_CONFLICT")
		return false
	}
	existing.order.Status = p.Status
	existing.lastUpdated = s.next()
	respondData(w, map[string]any{"lastUpdated": existing.lastUpdated})
	return true
}

type deletePayload struct {
	ID                  string         `json:"id"`
	OriginalLastUpdated entity.Version `json:"originalLastUpdated"`
	Force               bool           `json:"force"`
}

func (s *Server) deleteOrder(w http.ResponseWriter, data json.RawMessage) bool {
	var p deletePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		respondError(w, "invalid delete payload", "")
		return false
	}
	existing, ok := s.orders[p.ID]
	if !ok {
		// Deleting an already-deleted record is treated as success.
		respondData(w, map[string]any{"lastUpdated": s.clock})
		return false
	}
	if !versionOK(existing.lastUpdated, p.OriginalLastUpdated, p.Force) {
		respondError(w, "version mismatch", "ERR_VERSION_CONFLICT")
		return false
	}
	delete(s.orders, p.ID)
	respondData(w, map[string]any{"lastUpdated": s.next()})
	return true
}

type batchPayload struct {
	IDs           []string             `json:"ids"`
	PaymentStatus entity.PaymentStatus `json:"paymentStatus"`
}

func (s *Server) batchUpdatePaymentStatus(w http.ResponseWriter, data json.RawMessage) bool {
	var p batchPayload
	if err := json.Unmarshal(data, &p); err != nil || len(p.IDs) == 0 {
		respondError(w, "invalid batch payload", "")
		return false
	}
	results := make(map[string]int64, len(p.IDs))
	changed := false
	for _, id := range p.IDs {
		if s.batchRejects[id] {
			delete(s.batchRejects, id)
			continue
		}
		o, ok := s.orders[id]
		if !ok {
			continue
		}
		o.order.PaymentStatus = p.PaymentStatus
		o.lastUpdated = s.next()
		results[id] = o.lastUpdated
		changed = true
	}
	respondData(w, map[string]any{"lastUpdated": s.clock, "results": results})
	return changed
}

type customerPayload struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Phone               string         `json:"phone"`
	Address             string         `json:"address"`
	Note                string         `json:"note"`
	OriginalLastUpdated entity.Version `json:"originalLastUpdated"`
	Force               bool           `json:"force"`
}

func (s *Server) updateCustomer(w http.ResponseWriter, data json.RawMessage) bool {
	var p customerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		respondError(w, "invalid customer payload", "")
		return false
	}
	stored := int64(0)
	if existing, ok := s.customers[p.ID]; ok {
		stored = existing.lastUpdated
	}
	if !versionOK(stored, p.OriginalLastUpdated, p.Force) {
		respondError(w, "version mismatch", "ERR_VERSION_CONFLICT")
		return false
	}
	stamp := s.next()
	s.customers[p.ID] = &storedCustomer{
		customer: entity.Customer{
			Meta: entity.Meta{ID: p.ID}, Name: p.Name,
			Phone: p.Phone, Address: p.Address, Note: p.Note,
		},
		lastUpdated: stamp,
	}
	respondData(w, map[string]any{"lastUpdated": stamp})
	return true
}

func (s *Server) deleteCustomer(w http.ResponseWriter, data json.RawMessage) bool {
	var p deletePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		respondError(w, "invalid delete payload", "")
		return false
	}
	existing, ok := s.customers[p.ID]
	if !ok {
		respondData(w, map[string]any{"lastUpdated": s.clock})
		return false
	}
	if !versionOK(existing.lastUpdated, p.OriginalLastUpdated, p.Force) {
		respondError(w, "version mismatch", "ERR_VERSION_CONFLICT")
		return false
	}
	delete(s.customers, p.ID)
	respondData(w, map[string]any{"lastUpdated": s.next()})
	return true
}

type productPayload struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Unit                string         `json:"unit"`
	Price               float64        `json:"price"`
	SortOrder           int            `json:"sortOrder"`
	Note                string         `json:"note"`
	OriginalLastUpdated entity.Version `json:"originalLastUpdated"`
	Force               bool           `json:"force"`
}

func (s *Server) updateProduct(w http.ResponseWriter, data json.RawMessage) bool {
	var p productPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		respondError(w, "invalid product payload", "")
		return false
	}
	stored := int64(0)
	if existing, ok := s.products[p.ID]; ok {
		stored = existing.lastUpdated
	}
	if !versionOK(stored, p.OriginalLastUpdated, p.Force) {
		respondError(w, "version mismatch", "ERR_VERSION_CONFLICT")
		return false
	}
	stamp := s.next()
	s.products[p.ID] = &storedProduct{
		product: entity.Product{
			Meta: entity.Meta{ID: p.ID}, Name: p.Name, Unit: p.Unit,
			Price: p.Price, SortOrder: p.SortOrder, Note: p.Note,
		},
		lastUpdated: stamp,
	}
	respondData(w, map[string]any{"lastUpdated": stamp})
	return true
}

func (s *Server) deleteProduct(w http.ResponseWriter, data json.RawMessage) bool {
	var p deletePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		respondError(w, "invalid delete payload", "")
		return false
	}
	existing, ok := s.products[p.ID]
	if !ok {
		respondData(w, map[string]any{"lastUpdated": s.clock})
		return false
	}
	if !versionOK(existing.lastUpdated, p.OriginalLastUpdated, p.Force) {
		respondError(w, "version mismatch", "ERR_VERSION_CONFLICT")
		return false
	}
	delete(s.products, p.ID)
	respondData(w, map[string]any{"lastUpdated": s.next()})
	return true
}

type reorderPayload struct {
	IDs []string `json:"ids"`
}

func (s *Server) reorderProducts(w http.ResponseWriter, data json.RawMessage) bool {
	var p reorderPayload
	if err := json.Unmarshal(data, &p); err != nil || len(p.IDs) == 0 {
		respondError(w, "invalid reorder payload", "")
		return false
	}
	changed := false
	for i, id := range p.IDs {
		if stored, ok := s.products[id]; ok {
			stored.product.SortOrder = i
			stored.lastUpdated = s.next()
			changed = true
		}
	}
	respondData(w, map[string]any{"lastUpdated": s.clock})
	return changed
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, data json.RawMessage) {
	var p loginPayload
	if err := json.Unmarshal(data, &p); err != nil {
		respondError(w, "invalid login payload", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.password != "" && p.Password != s.password {
		respondError(w, "invalid credentials", "")
		return
	}
	token := "tok-" + strconv.FormatInt(s.next(), 36)
	s.tokens[token] = true
	respondData(w, map[string]any{"token": token})
}

type changePasswordPayload struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, data json.RawMessage) {
	var p changePasswordPayload
	if err := json.Unmarshal(data, &p); err != nil {
		respondError(w, "invalid change password payload", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.password != "" && p.OldPassword != s.password {
		respondError(w, "invalid credentials", "")
		return
	}
	s.password = p.NewPassword
	respondData(w, map[string]any{"lastUpdated": s.clock})
}

// handleChanges upgrades to a WebSocket and keeps the connection open; every
// accepted write pushes a change hint to all connected clients.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.connsMu.Lock()
	s.conns[conn] = true
	s.connsMu.Unlock()

	// Drain reads until the client goes away.
	go func() {
		defer func() {
			s.connsMu.Lock()
			delete(s.conns, conn)
			s.connsMu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) broadcast() {
	hint := map[string]any{"type": "data_changed", "at": time.Now().UnixMilli()}
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		if err := conn.WriteJSON(hint); err != nil {
			delete(s.conns, conn)
			conn.Close()
		}
	}
}
