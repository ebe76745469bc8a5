package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"fintrack/backend/internal/domain"
	"fintrack/backend/internal/export"
	"fintrack/backend/internal/service"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePDF  = "application/pdf"
)

type API struct {
	service         *service.Service
	auth            *AuthManager
	allowedOrigins  []string
	loginLimiter    *attemptLimiter
	registerLimiter *attemptLimiter
	heartbeat       time.Duration
}

// New wires the HTTP surface. allowedOrigin may hold several origins separated
// by commas.
func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	origins := make([]string, 0, 2)
	for _, origin := range strings.Split(allowedOrigin, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return &API{
		service:         svc,
		auth:            auth,
		allowedOrigins:  origins,
		loginLimiter:    newAttemptLimiter(5, time.Minute),
		registerLimiter: newAttemptLimiter(10, time.Hour),
		heartbeat:       25 * time.Second,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(limitJSONBody)
	r.Use(logRequests)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/products", a.handleListProducts)
			r.Post("/products", a.handleCreateProduct)

			r.Get("/transactions", a.handleListTransactions)
			r.Post("/transactions", a.handleCreateTransaction)
			r.Get("/transactions/{id}", a.handleGetTransaction)
			r.Delete("/transactions/{id}", a.handleDeleteTransaction)
			r.Post("/transactions/{id}/pay", a.handleMarkPaid)
			r.Get("/transactions/{id}/invoice.pdf", a.handleTransactionInvoicePDF)

			r.Post("/invoices", a.handleCreateInvoice)
			r.Post("/invoices/consolidated.pdf", a.handleConsolidatedInvoicePDF)

			r.Get("/inventory", a.handleInventory)
			r.Get("/payments/summary", a.handlePaymentSummary)

			r.Get("/exports/transactions.xlsx", a.handleExportTransactions)
			r.Get("/exports/inventory.xlsx", a.handleExportInventory)

			r.Get("/audit-logs", a.handleAuditLogs)
			r.Get("/events", a.handleEvents)
		})
	})

	return r
}

func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func ownerFrom(r *http.Request) string {
	actor, _ := service.ActorFromContext(r.Context())
	return actor.Username
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.registerLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many registrations"))
		return
	}

	var req domain.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			err = errors.New("username already exists")
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.AddProduct(r.Context(), ownerFrom(r), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := a.service.GetTransactions(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	query := r.URL.Query()
	txType := domain.TransactionType(strings.TrimSpace(query.Get("type")))
	status := domain.PaymentStatus(strings.TrimSpace(query.Get("status")))
	productID := strings.TrimSpace(query.Get("product_id"))
	if txType != "" || status != "" || productID != "" {
		filtered := txs[:0]
		for _, tx := range txs {
			if txType != "" && tx.Type != txType {
				continue
			}
			if status != "" && tx.PaymentStatus != status {
				continue
			}
			if productID != "" && tx.ProductID != productID {
				continue
			}
			filtered = append(filtered, tx)
		}
		txs = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (a *API) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req domain.TransactionCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	tx, err := a.service.AddTransaction(r.Context(), ownerFrom(r), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction": tx})
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := a.service.GetTransaction(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteTransaction(r.Context(), ownerFrom(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	tx, err := a.service.MarkTransactionAsPaid(r.Context(), ownerFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
}

func (a *API) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.AddInvoice(r.Context(), ownerFrom(r), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

func (a *API) handleTransactionInvoicePDF(w http.ResponseWriter, r *http.Request) {
	a.writeInvoicePDF(w, r, []string{chi.URLParam(r, "id")})
}

func (a *API) handleConsolidatedInvoicePDF(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionIDs []string `json:"transaction_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.writeInvoicePDF(w, r, req.TransactionIDs)
}

func (a *API) writeInvoicePDF(w http.ResponseWriter, r *http.Request, ids []string) {
	owner := ownerFrom(r)
	txs, err := a.service.SelectTransactions(r.Context(), owner, ids)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	inv, err := export.BuildInvoice(txs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var buf bytes.Buffer
	if err := export.RenderInvoicePDF(&buf, inv, owner); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("render invoice: %w", err))
		return
	}
	writeFile(w, contentTypePDF, inv.Number+".pdf", buf.Bytes())
}

func (a *API) handleExportTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := a.service.GetTransactions(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	var buf bytes.Buffer
	if err := export.TransactionsWorkbook(&buf, txs); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("build workbook: %w", err))
		return
	}
	writeFile(w, contentTypeXLSX, "transactions-"+time.Now().UTC().Format("20060102")+".xlsx", buf.Bytes())
}

func (a *API) handleExportInventory(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.GetInventorySummary(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	var buf bytes.Buffer
	if err := export.InventoryWorkbook(&buf, items); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("build workbook: %w", err))
		return
	}
	writeFile(w, contentTypeXLSX, "inventory-"+time.Now().UTC().Format("20060102")+".xlsx", buf.Bytes())
}

// =============================================================================
// READ MODELS
// =============================================================================

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.GetInventorySummary(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": items})
}

func (a *API) handlePaymentSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.GetPaymentSummary(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), ownerFrom(r), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}

// handleEvents streams change notifications as server-sent events until the
// client disconnects. Clients re-fetch whatever they display on each event.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	// the server-wide write timeout would cut the stream
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	events := make(chan domain.Change, 16)
	unsubscribe := a.service.Watch(ownerFrom(r), func(change domain.Change) {
		select {
		case events <- change:
		default:
			// a slow client already has a pending re-fetch signal
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(a.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case change := <-events:
			payload, err := json.Marshal(change)
			if err != nil {
				log.Printf("[httpapi] WARN: failed to encode change: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// =============================================================================
// MIDDLEWARE & HELPERS
// =============================================================================

func (a *API) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// statusFor maps the domain error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses carry a generic message so driver details stay server-side.
	// Store errors are the exception: their message is already normalized.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		var storeErr *domain.StoreError
		if errors.As(err, &storeErr) {
			msg = storeErr.Message
		} else {
			msg = "internal server error"
		}
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeFile(w http.ResponseWriter, contentType string, filename string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
