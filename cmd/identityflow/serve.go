package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/identityflow"
	promexport "github.com/MrEthical07/identityflow/metrics/export/prometheus"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflows over HTTP with /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			h, err := newHandler(rt.engine, rt.logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveHTTP(ctx, rt.cfg.Serve.Addr, h, rt.logger)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :8080)")
	return cmd
}

func serveHTTP(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type handler struct {
	engine *identityflow.Engine
	logger *slog.Logger
	mux    *http.ServeMux
}

func newHandler(engine *identityflow.Engine, logger *slog.Logger) (http.Handler, error) {
	metrics, err := promexport.Handler(engine)
	if err != nil {
		return nil, err
	}

	h := &handler{engine: engine, logger: logger, mux: http.NewServeMux()}
	links := engine.Config().Links

	h.mux.HandleFunc("POST /register", h.register)
	h.mux.HandleFunc("GET /"+trimSlash(links.ConfirmationPath), h.confirm)
	h.mux.HandleFunc("GET /confirmation", h.confirmationPage)
	h.mux.HandleFunc("POST /confirmation/resend", h.resendConfirmation)
	h.mux.HandleFunc("POST /recover", h.requestRecovery)
	h.mux.HandleFunc("GET /recover/sent", h.recoverSent)
	h.mux.HandleFunc("GET /"+trimSlash(links.RecoveryPath), h.resetForm)
	h.mux.HandleFunc("POST /"+trimSlash(links.RecoveryPath), h.reset)
	h.mux.HandleFunc("POST /change-credential", h.changeCredential)
	h.mux.Handle("GET /metrics", metrics)
	return h, nil
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := identityflow.WithClientIP(r.Context(), clientIP(r))
	ctx = identityflow.WithUserAgent(ctx, r.UserAgent())
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

type resultBody struct {
	Code     string   `json:"code"`
	Messages []string `json:"messages"`
	Identity string   `json:"identity,omitempty"`
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Register(r.Context(), identityflow.RegistrationInput{
		Identity:   r.FormValue("identity"),
		Credential: r.FormValue("password"),
	})
	h.respond(w, r, res, err)
}

func (h *handler) confirm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.engine.ConfirmIdentity(r.Context(), q.Get(identityflow.LinkParamIdentity), q.Get(identityflow.LinkParamCode))
	h.respond(w, r, res, err)
}

// confirmationPage tells an unconfirmed identity where to request a new
// confirmation code. It issues nothing itself.
func (h *handler) confirmationPage(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get(identityflow.LinkParamIdentity)
	if identity == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"identity": identity,
		"status":   identityflow.IdentityNotConfirmed.String(),
		"resend":   "/confirmation/resend",
	})
}

func (h *handler) resendConfirmation(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RequestConfirmation(r.Context(), r.FormValue("identity"))
	h.respond(w, r, res, err)
}

// requestRecovery sends a reset code and redirects to the "sent" page, so a reload
// does not issue a second code.
func (h *handler) requestRecovery(w http.ResponseWriter, r *http.Request) {
	identity := r.FormValue("identity")
	res, err := h.engine.RequestRecovery(r.Context(), identity)
	if err != nil || !res.Valid() {
		h.respond(w, r, res, err)
		return
	}
	http.Redirect(w, r, "/recover/sent?"+url.Values{"identity": {identity}}.Encode(), http.StatusSeeOther)
}

func (h *handler) recoverSent(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identity": identity, "status": "sent"})
}

// resetForm echoes the link parameters a reset form needs.
func (h *handler) resetForm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	identity, code := q.Get(identityflow.LinkParamIdentity), q.Get(identityflow.LinkParamCode)
	if identity == "" || code == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identity": identity, "code": code})
}

// reset sends an unconfirmed identity to the confirmation page instead of
// reporting a failure.
func (h *handler) reset(w http.ResponseWriter, r *http.Request) {
	identity := r.FormValue(identityflow.LinkParamIdentity)
	res, err := h.engine.ResetPassword(r.Context(), identity, r.FormValue(identityflow.LinkParamCode), r.FormValue("password"))
	if err == nil && res.Code == identityflow.IdentityNotConfirmed {
		target := "/confirmation?" + url.Values{identityflow.LinkParamIdentity: {identity}}.Encode()
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	h.respond(w, r, res, err)
}

func (h *handler) changeCredential(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.ChangeCredential(r.Context(), r.FormValue("identity"), r.FormValue("current"), r.FormValue("password"))
	h.respond(w, r, res, err)
}

func (h *handler) respond(w http.ResponseWriter, r *http.Request, res identityflow.AuthenticationResult, err error) {
	if err != nil {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		status := http.StatusServiceUnavailable
		switch {
		case errors.Is(err, identityflow.ErrInvalidUser):
			status = http.StatusBadRequest
		case errors.Is(err, identityflow.ErrIssuanceRateLimited):
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}

	body := resultBody{Code: res.Code.String(), Messages: res.Messages}
	if res.User != nil {
		body.Identity = res.User.Identity
	}
	writeJSON(w, statusFor(res.Code), body)
}

func statusFor(code identityflow.ResultCode) int {
	switch code {
	case identityflow.Success:
		return http.StatusOK
	case identityflow.IdentityNotFound:
		return http.StatusNotFound
	case identityflow.IdentityExists:
		return http.StatusConflict
	case identityflow.IdentityConfirmationFailed, identityflow.RecoverPasswordFailed, identityflow.CredentialChangeFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func trimSlash(p string) string {
	return strings.TrimLeft(p, "/")
}
