// Package server implements the inbound HTTP boundary: basic auth, lenient
// query parsing and the mapping from relay dispositions to response codes.
package server

import (
	"crypto/subtle"
	"net/http"
	"net/netip"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumpenputzer/dyndns-forwarding-server/config"
	"github.com/lumpenputzer/dyndns-forwarding-server/endpoint"
	"github.com/lumpenputzer/dyndns-forwarding-server/relay"
)

type Server struct {
	relay          *relay.Relay
	username       string
	passwordBcrypt []byte
	logger         *zap.Logger
}

func New(r *relay.Relay, cfg config.Server, logger *zap.Logger) *Server {
	return &Server{
		relay:          r,
		username:       cfg.Username,
		passwordBcrypt: []byte(cfg.PasswordBcrypt),
		logger:         logger,
	}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/dyndns", s.handleDynDNS)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

func (s *Server) handleDynDNS(w http.ResponseWriter, r *http.Request) {
	// Simple HTTP basic auth, the password against a bcrypt hash. The
	// server is most likely deployed locally without TLS anyway, so this
	// only prevents the most basic of abuse.
	username, password, ok := r.BasicAuth()
	if !ok ||
		subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) != 1 ||
		bcrypt.CompareHashAndPassword(s.passwordBcrypt, []byte(password)) != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="dyndns"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// The parameters are mandatory but might be empty or unparseable. The
	// router's request format cannot be changed, so wrong values are treated
	// as absent rather than rejected.
	q := r.URL.Query()
	u := endpoint.Update{
		IPv4:       parseIPv4(q.Get("ipv4")),
		IPv6:       parseIPv6(q.Get("ipv6")),
		IPv6Prefix: parseIPv6Prefix(q.Get("ipv6prefix")),
	}
	s.logger.Sugar().Infow(
		"received dyndns update request",
		"from", username,
		"ipv4", u.IPv4,
		"ipv6", u.IPv6,
		"ipv6prefix", u.IPv6Prefix,
	)

	disposition, err := s.relay.Dispatch(r.Context(), u)
	if err != nil {
		s.logger.Sugar().Errorw("update pass aborted", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	switch disposition {
	case relay.DispositionSuccess:
		w.WriteHeader(http.StatusOK)
	case relay.DispositionRateLimited:
		w.WriteHeader(http.StatusTooManyRequests)
	case relay.DispositionInvalidInput:
		http.Error(w, "one of ipv4, ipv6 or ipv6prefix has to be set and be valid", http.StatusUnprocessableEntity)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func parseIPv4(s string) netip.Addr {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}
	}
	return addr
}

func parseIPv6(s string) netip.Addr {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is6() || addr.Is4In6() {
		return netip.Addr{}
	}
	return addr
}

func parseIPv6Prefix(s string) netip.Prefix {
	prefix, err := netip.ParsePrefix(s)
	if err != nil || !prefix.Addr().Is6() || prefix.Addr().Is4In6() {
		return netip.Prefix{}
	}
	return prefix.Masked()
}
