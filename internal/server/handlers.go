package server

import (
	"io"
	"net/http"
	"strconv"

	"custodial-wallet-go/internal/alchemypay"
	"custodial-wallet-go/internal/api"
	"custodial-wallet-go/internal/paycrest"

	"github.com/go-chi/chi/v5"
)

func intParam(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.HealthCheck(r.Context()); err != nil {
		writeMessage(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"custodian": s.svc.Custodian().Name(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.svc.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	result, err := s.svc.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Profile(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleEnrollTOTP(w http.ResponseWriter, r *http.Request) {
	key, err := s.svc.EnrollTOTP(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := s.svc.Balances(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.History(r.Context(), userID(r), r.URL.Query().Get("asset"), intParam(r, "limit"), intParam(r, "offset"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	addresses, err := s.svc.ListAddresses(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addresses)
}

func (s *Server) handleCreateAddress(w http.ResponseWriter, r *http.Request) {
	var req api.AddressRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	address, err := s.svc.GetOrCreateAddress(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, address)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req api.WithdrawRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	record, err := s.svc.Withdraw(r.Context(), userID(r), req)
	if err != nil {
		if record != nil {
			// submitted but unconfirmed; the listener settles it
			writeJSON(w, http.StatusAccepted, record)
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleListWithdrawals(w http.ResponseWriter, r *http.Request) {
	records, err := s.svc.ListWithdrawals(r.Context(), userID(r), intParam(r, "limit"), intParam(r, "offset"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := api.QuoteRequest{
		Asset:   q.Get("asset"),
		Network: q.Get("network"),
		Amount:  q.Get("amount"),
		Fiat:    q.Get("fiat"),
	}
	if err := s.check(&req); err != nil {
		writeError(w, r, err)
		return
	}
	quote, err := s.svc.QuoteOfframp(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleVerifyAccount(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyAccountRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	account, err := s.svc.VerifyBankAccount(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleInstitutions(w http.ResponseWriter, r *http.Request) {
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		currency = "NGN"
	}
	institutions, err := s.svc.ListInstitutions(r.Context(), currency)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, institutions)
}

func (s *Server) handleBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := s.svc.ListBanks(r.Context(), r.URL.Query().Get("country"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, banks)
}

func (s *Server) handleCreateOfframp(w http.ResponseWriter, r *http.Request) {
	var req api.OfframpRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	order, err := s.svc.CreateOfframp(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOfframps(w http.ResponseWriter, r *http.Request) {
	orders, err := s.svc.ListOfframps(r.Context(), userID(r), intParam(r, "limit"), intParam(r, "offset"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOfframp(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.GetOfframp(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleCreateOnramp(w http.ResponseWriter, r *http.Request) {
	var req api.OnrampRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.svc.CreateOnramp(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleCreateSellRamp(w http.ResponseWriter, r *http.Request) {
	var req api.SellRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := s.svc.CreateSellRamp(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req api.DeviceRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	device, err := s.svc.RegisterDevice(r.Context(), userID(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, userID(r))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.svc.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req api.RoleRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.SetRole(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "role updated")
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req api.StatusRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.SetStatus(r.Context(), chi.URLParam(r, "id"), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "status updated")
}

func (s *Server) handleAdminOfframps(w http.ResponseWriter, r *http.Request) {
	orders, err := s.svc.AdminListOfframps(r.Context(), r.URL.Query().Get("status"), intParam(r, "limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleRetryOfframp(w http.ResponseWriter, r *http.Request) {
	order, err := s.svc.RetryOfframp(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleReconcileUser(w http.ResponseWriter, r *http.Request) {
	balances, err := s.svc.ReconcileUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleReconcileCustody(w http.ResponseWriter, r *http.Request) {
	reports, err := s.svc.ReconcileCustody(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, bodyError(err)
	}
	return body, nil
}

func (s *Server) handleCustodyWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.HandleCustodyWebhook(r.Context(), body, r.Header.Get(s.svc.CustodySignatureHeader())); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "ok")
}

func (s *Server) handlePaycrestWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.HandlePaycrestWebhook(r.Context(), body, r.Header.Get(paycrest.SignatureHeader)); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "ok")
}

func (s *Server) handleAlchemyPayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.HandleAlchemyPayWebhook(r.Context(), body, r.Header.Get(alchemypay.SignatureHeader)); err != nil {
		writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "ok")
}
