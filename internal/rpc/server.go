// Package rpc implements the JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Klingon-tech/klingnet-staking/config"
	klog "github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/internal/metrics"
	"github.com/Klingon-tech/klingnet-staking/internal/staking"
	"github.com/Klingon-tech/klingnet-staking/internal/token"
	"github.com/Klingon-tech/klingnet-staking/pkg/types"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// NodeInfo is static node information reported by node_getInfo.
type NodeInfo struct {
	Version          string
	Network          string
	Pool             string
	PoolHash         types.Hash
	Admin            string
	ZeroRewardPolicy string
	Started          time.Time
}

// Backend is everything the handlers operate on.
type Backend struct {
	Engine *staking.Engine
	Stake  *token.Custody // Stake token and its pool custody account.
	Reward *token.Custody // Reward token and its pool custody account.
	Nonces *NonceStore
	Info   NodeInfo
}

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr        string
	engine      *staking.Engine
	tokens      map[string]*token.Custody
	nonces      *NonceStore
	info        NodeInfo
	mux         *http.ServeMux
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
	errc        chan error
}

// New creates a new RPC server. The rpcCfg parameter controls IP filtering
// and CORS. A zero-value RPCConfig allows all IPs and disables CORS.
func New(addr string, b Backend, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:   addr,
		engine: b.Engine,
		tokens: map[string]*token.Custody{
			TokenStake:  b.Stake,
			TokenReward: b.Reward,
		},
		nonces: b.Nonces,
		info:   b.Info,
		logger: klog.RPC,
		errc:   make(chan error, 1),
	}
	if s.info.Started.IsZero() {
		s.info.Started = time.Now()
	}

	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// HandleMetrics serves h at /metrics behind the same IP filter as the API.
// Must be called before Start.
func (s *Server) HandleMetrics(h http.Handler) {
	if h == nil {
		return
	}
	s.mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if !s.allowed(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		// Try as a single IP (add /32 or /128).
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
			s.errc <- err
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")
	return nil
}

// Err reports the error that stopped the server from serving. Nothing is
// sent after a clean Stop.
func (s *Server) Err() <-chan error {
	return s.errc
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// CORS headers.
	s.setCORSHeaders(w, r)

	// Handle CORS preflight.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	start := time.Now()
	result, rpcErr := s.dispatch(&req)
	s.observe(&req, rpcErr, time.Since(start))

	if rpcErr != nil {
		writeJSON(w, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	writeJSON(w, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "staking_stake":
		return s.handleStakingStake(req)
	case "staking_claim":
		return s.handleStakingClaim(req)
	case "staking_unstake":
		return s.handleStakingUnstake(req)
	case "staking_getStake":
		return s.handleStakingGetStake(req)
	case "staking_pendingReward":
		return s.handleStakingPendingReward(req)
	case "staking_listStakes":
		return s.handleStakingListStakes(req)
	case "staking_getParameters":
		return s.handleStakingGetParameters(req)
	case "staking_getAccounting":
		return s.handleStakingGetAccounting(req)
	case "admin_updateParameters":
		return s.handleAdminUpdateParameters(req)
	case "token_getInfo":
		return s.handleTokenGetInfo(req)
	case "token_getBalance":
		return s.handleTokenGetBalance(req)
	case "token_getAllowance":
		return s.handleTokenGetAllowance(req)
	case "token_approve":
		return s.handleTokenApprove(req)
	case "token_transfer":
		return s.handleTokenTransfer(req)
	case "account_getNonce":
		return s.handleAccountGetNonce(req)
	case "node_getInfo":
		return s.handleNodeGetInfo(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// observe records request metrics. Unknown methods share one label.
func (s *Server) observe(req *Request, rpcErr *Error, took time.Duration) {
	method, result := req.Method, "ok"
	if rpcErr != nil {
		result = strconv.Itoa(rpcErr.Code)
		if rpcErr.Code == CodeMethodNotFound {
			method = "unknown"
		}
	}
	metrics.RPCRequest(method, result, took.Seconds())
	s.logger.Debug().Str("method", req.Method).Str("result", result).Dur("took", took).Msg("RPC request")
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// allowed applies the IP allow-list to r.
func (s *Server) allowed(r *http.Request) bool {
	if len(s.allowedNets) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && s.isIPAllowed(ip)
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	// Check if origin is allowed.
	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	if err := json.Unmarshal(req.Params, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
