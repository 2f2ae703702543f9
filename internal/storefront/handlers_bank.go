package storefront

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"funland/pkg/bank"
	"funland/pkg/session"
	"funland/pkg/tenants"
)

const (
	defaultTransferAmount = "15"
	deniedMessage         = "You are not authorized to make this transaction. Perhaps you can try with a smaller transaction amount?"
)

type transactionView struct {
	Amount  string
	Error   string
	Enabled bool
}

func (s *Server) prepareTransaction(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	v := transactionView{Amount: r.URL.Query().Get("transaction_amount"), Enabled: s.bankAS != nil}
	if v.Amount == "" {
		v.Amount = defaultTransferAmount
	}
	if r.URL.Query().Get("error") == "access_denied" {
		v.Error = deniedMessage
		sess.ClearPending()
	}
	s.render(w, r, http.StatusOK, "transaction", "Transfer", v)
}

// submitTransaction parks the transfer in the session and sends the browser
// to the bank to authorize exactly that transfer.
func (s *Server) submitTransaction(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if s.bankAS == nil {
		http.Error(w, "Bank transactions are not configured.", http.StatusForbidden)
		return
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("amount")), 64)
	if err != nil || amount <= 0 {
		s.render(w, r, http.StatusUnprocessableEntity, "transaction", "Transfer", transactionView{
			Amount: r.FormValue("amount"), Error: "Enter a positive amount.", Enabled: true,
		})
		return
	}
	tx := bank.Transaction{
		Type:   r.FormValue("type"),
		Amount: amount,
		From:   r.FormValue("transferFrom"),
		To:     r.FormValue("transferTo"),
	}
	if tx.Type == "" {
		tx.Type = "payment"
	}

	sess.PendingTransaction = &tx
	sess.BankState, sess.BankNonce = uuid.NewString(), uuid.NewString()
	target, err := s.bankAS.Push(r.Context(), tx, sess.BankState, sess.BankNonce)
	if err != nil {
		s.log.Errorw("bank authorization request", "sub", sess.User.Subject(), "err", err)
		sess.ClearPending()
		sess.ErrorMsg = "Unable to reach the bank, please try again."
		http.Redirect(w, r, tenants.ErrorPath, http.StatusFound)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// resumeTransaction is the bank's redirect target. It redeems the code and
// books the pending transfer.
func (s *Server) resumeTransaction(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	q := r.URL.Query()
	fail := func(msg string) {
		sess.ClearPending()
		sess.ErrorMsg = msg
		http.Redirect(w, r, tenants.ErrorPath, http.StatusFound)
	}

	switch e := q.Get("error"); {
	case e == "access_denied":
		http.Redirect(w, r, "/prepare-transaction?error=access_denied", http.StatusFound)
		return
	case e != "":
		if d := q.Get("error_description"); d != "" {
			e = d
		}
		fail(e)
		return
	case s.bankAS == nil:
		http.Redirect(w, r, "/prepare-transaction", http.StatusFound)
		return
	}
	if sess.BankState == "" || q.Get("state") != sess.BankState {
		fail("Transaction state mismatch, please try again.")
		return
	}
	if _, err := s.bankAS.Exchange(r.Context(), q.Get("code")); err != nil {
		s.log.Errorw("bank code exchange", "sub", sess.User.Subject(), "err", err)
		fail("Unable to authorize the transaction.")
		return
	}

	if sess.PendingTransaction == nil {
		amount := q.Get("amount")
		if amount == "" {
			amount = defaultTransferAmount
		}
		sess.BankState, sess.BankNonce = "", ""
		s.render(w, r, http.StatusOK, "transaction", "Transfer", transactionView{Amount: amount, Enabled: true})
		return
	}
	e := s.ledger.Record(*sess.PendingTransaction)
	s.log.Infow("bank transaction booked", "sub", sess.User.Subject(), "description", e.Description, "value", e.Value)
	sess.ClearPending()
	http.Redirect(w, r, "/transaction-complete", http.StatusFound)
}

func (s *Server) transactionComplete(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "transaction-complete", "Transfer complete", nil)
}

type balanceView struct {
	Balance   float64
	Purchases []bank.Entry
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "balance", "Balance", balanceView{
		Balance:   s.ledger.Balance(),
		Purchases: s.ledger.Entries(),
	})
}
