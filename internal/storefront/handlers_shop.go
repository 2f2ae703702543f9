package storefront

import (
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"funland/pkg/fga"
	"funland/pkg/middleware"
	"funland/pkg/session"
)

const ticketType = "ticket"

type ticketsView struct {
	Tickets   []Ticket
	Purchased []string
}

func (s *Server) tickets(w http.ResponseWriter, r *http.Request) {
	v := ticketsView{Tickets: s.catalog.Tickets}
	if sub := middleware.ActorSub(r.Context()); sub != "" && s.authz != nil {
		for _, obj := range s.authz.ListObjects(r.Context(), fga.UserRef(sub), "purchased", ticketType) {
			id := strings.TrimPrefix(obj, ticketType+":")
			if t, ok := s.catalog.Find(id); ok {
				v.Purchased = append(v.Purchased, t.Name)
			}
		}
	}
	s.render(w, r, http.StatusOK, "tickets", "Tickets", v)
}

func (s *Server) addToCart(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		http.Error(w, "no session", http.StatusInternalServerError)
		return
	}
	t, ok := s.catalog.Find(r.FormValue("ticketId"))
	if !ok {
		http.Error(w, "Ticket not found.", http.StatusNotFound)
		return
	}
	if sub := middleware.ActorSub(r.Context()); sub != "" && s.authz != nil {
		if !s.authz.Check(r.Context(), fga.UserRef(sub), "can_purchase", ticketType+":"+t.ID, nil) {
			s.log.Infow("purchase denied", "sub", sub, "ticket", t.ID)
			http.Error(w, "You don't have permission to purchase "+t.Name+".", http.StatusForbidden)
			return
		}
	}
	sess.Cart = append(sess.Cart, session.CartItem{ID: t.ID, Name: t.Name, Price: t.Price})
	http.Redirect(w, r, "/checkout", http.StatusFound)
}

type checkoutView struct {
	Total float64
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var cart []session.CartItem
	if sess := session.FromContext(r.Context()); sess != nil {
		cart = sess.Cart
	}
	s.render(w, r, http.StatusOK, "checkout", "Checkout", checkoutView{Total: cartTotal(cart)})
}

type paymentView struct {
	Name          string
	Vendor        string
	Total         float64
	TransactionID string
	Reason        string
}

// processPayment validates the mock card form and empties the cart.
func (s *Server) processPayment(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		http.Error(w, "no session", http.StatusInternalServerError)
		return
	}
	card := strings.TrimSpace(r.FormValue("cardNumber"))
	name := strings.TrimSpace(r.FormValue("name"))
	vendor := strings.TrimSpace(r.FormValue("vendor"))
	expiry := strings.TrimSpace(r.FormValue("expiry"))
	total := cartTotal(sess.Cart)

	if card == "" || name == "" || vendor == "" || expiry == "" || len(card) < 12 {
		s.render(w, r, http.StatusUnprocessableEntity, "payment-failure", "Payment failed", paymentView{Reason: "Invalid payment details"})
		return
	}

	txn := fmt.Sprintf("MOCK-%d", rand.Intn(1000000))
	if sub := middleware.ActorSub(r.Context()); sub != "" && s.authz != nil {
		tuples := make([]fga.Tuple, 0, len(sess.Cart))
		for _, it := range sess.Cart {
			tuples = append(tuples, fga.Tuple{User: fga.UserRef(sub), Relation: "purchased", Object: ticketType + ":" + it.ID})
		}
		if err := s.authz.Write(r.Context(), tuples...); err != nil {
			s.log.Warnw("record purchase", "sub", sub, "txn", txn, "err", err)
		}
	}
	s.log.Infow("payment accepted", "txn", txn, "items", len(sess.Cart), "total", total)
	sess.Cart = nil

	s.render(w, r, http.StatusOK, "payment-success", "Thank you", paymentView{
		Name:          name,
		Vendor:        vendor,
		Total:         total,
		TransactionID: txn,
	})
}

func (s *Server) timestamp(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(strconv.FormatInt(time.Now().UnixMilli(), 10)))
}

func cartTotal(cart []session.CartItem) float64 {
	var sum float64
	for _, it := range cart {
		sum += it.Price
	}
	return sum
}
