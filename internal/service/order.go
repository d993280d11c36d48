package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"rustshop-api/internal/model"
	"rustshop-api/internal/repository"
	"rustshop-api/pkg/uid"

	"github.com/shopspring/decimal"
)

// Validation errors, rejected before any mutation.
var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInvalidCartItem  = errors.New("invalid cart item")
	ErrInactiveProduct  = errors.New("product is not available")
	ErrServerRestricted = errors.New("product is restricted to a different server")

	// ErrOrderFailed is the generic failure surfaced after the debit was
	// compensated. The incident details stay in the logs, not the response.
	ErrOrderFailed = errors.New("order failed, please retry")
)

// ShortfallError reports how much more balance a purchase needs, so the UI
// can prompt a top-up.
type ShortfallError struct {
	Balance   decimal.Decimal
	Total     decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient balance: need %s more", e.Shortfall.String())
}

// LineInput is one client-submitted cart line. Only the product id and
// quantity are trusted; prices always come from the catalog.
type LineInput struct {
	ProductID string
	Quantity  int
}

// CreateOrderInput is the order processor's request.
type CreateOrderInput struct {
	Lines    []LineInput
	ServerID *string
	Note     string
}

// OrderService validates a cart, debits the ledger, persists the order and
// enqueues delivery work. The ledger may live in a different database than
// the order store, so a failure after the debit is recovered by a
// compensating refund credit rather than a rollback.
type OrderService struct {
	ledger   *LedgerService
	products repository.ProductRepository
	orders   repository.OrderRepository
	queue    *QueueService
	currency string
}

// NewOrderService creates a new order processor.
func NewOrderService(ledger *LedgerService, products repository.ProductRepository, orders repository.OrderRepository, queue *QueueService, currency string) *OrderService {
	return &OrderService{
		ledger:   ledger,
		products: products,
		orders:   orders,
		queue:    queue,
		currency: currency,
	}
}

// CreateOrder runs the purchase transaction for an authenticated user.
func (s *OrderService) CreateOrder(ctx context.Context, user *model.User, input CreateOrderInput) (*model.Order, error) {
	if len(input.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	// Re-read every product from the catalog; client-submitted prices are
	// never trusted.
	seen := make(map[string]*model.Product)
	subtotal := decimal.Zero
	now := time.Now().UTC()
	items := make([]model.OrderItem, 0, len(input.Lines))

	for _, line := range input.Lines {
		if line.ProductID == "" || line.Quantity < 1 {
			return nil, ErrInvalidCartItem
		}

		product, ok := seen[line.ProductID]
		if !ok {
			var err error
			product, err = s.products.GetProduct(ctx, line.ProductID)
			if err != nil {
				if errors.Is(err, repository.ErrProductNotFound) {
					return nil, fmt.Errorf("product %s: %w", line.ProductID, repository.ErrProductNotFound)
				}
				return nil, fmt.Errorf("read product %s: %w", line.ProductID, err)
			}
			seen[line.ProductID] = product
		}

		if !product.IsActive {
			return nil, fmt.Errorf("product %s: %w", product.ID, ErrInactiveProduct)
		}
		if input.ServerID != nil && product.RestrictedTo(*input.ServerID) {
			return nil, fmt.Errorf("product %s: %w", product.ID, ErrServerRestricted)
		}

		item := model.OrderItem{
			ID:              uid.OrderItemToken(),
			ProductID:       product.ID,
			ProductName:     product.Name,
			Quantity:        line.Quantity,
			UnitPrice:       product.Price,
			CommandTemplate: product.CommandTemplate,
			CreatedAt:       now,
		}
		subtotal = subtotal.Add(item.LineTotal())
		items = append(items, item)
	}

	total := subtotal

	// Reject with a structured shortfall before touching the ledger. The
	// debit below re-checks atomically; this pre-check only exists to give
	// the caller the exact missing amount.
	balance, err := s.ledger.Balance(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if balance.LessThan(total) {
		return nil, &ShortfallError{
			Balance:   balance,
			Total:     total,
			Shortfall: total.Sub(balance),
		}
	}

	// (a) Debit the ledger for the total.
	description := fmt.Sprintf("Purchase: %d item(s)", len(items))
	if _, err := s.ledger.Debit(ctx, user.ID, total, description); err != nil {
		if errors.Is(err, repository.ErrInsufficientFunds) {
			// A concurrent purchase won the balance between the pre-check
			// and the debit.
			balance, balErr := s.ledger.Balance(ctx, user.ID)
			if balErr != nil {
				balance = decimal.Zero
			}
			return nil, &ShortfallError{
				Balance:   balance,
				Total:     total,
				Shortfall: total.Sub(balance),
			}
		}
		return nil, fmt.Errorf("debit: %w", err)
	}

	order := &model.Order{
		ID:        uid.OrderToken(now),
		UserID:    user.ID,
		SteamID:   user.SteamID,
		Status:    model.OrderPaid,
		Subtotal:  subtotal,
		Total:     total,
		Currency:  s.currency,
		ServerID:  input.ServerID,
		Note:      input.Note,
		Items:     items,
		CreatedAt: now,
	}

	// (b) Persist the order and its frozen line items.
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.compensate(ctx, user.ID, total, order.ID)
		log.Printf("[OrderService] INCIDENT order=%s user=%d: order write failed after debit: %v", order.ID, user.ID, err)
		return nil, ErrOrderFailed
	}

	// (c) Materialize one delivery task per purchased line.
	if _, err := s.queue.Enqueue(ctx, order); err != nil {
		if delErr := s.orders.DeleteOrder(ctx, order.ID); delErr != nil {
			log.Printf("[OrderService] INCIDENT order=%s: cleanup of half-created order failed: %v", order.ID, delErr)
		}
		s.compensate(ctx, user.ID, total, order.ID)
		log.Printf("[OrderService] INCIDENT order=%s user=%d: enqueue failed after debit: %v", order.ID, user.ID, err)
		return nil, ErrOrderFailed
	}

	log.Printf("[OrderService] Created order=%s user=%d total=%s items=%d", order.ID, user.ID, total.String(), len(items))
	return order, nil
}

// compensate refunds a debit whose downstream writes failed. Mandatory: an
// order must never exist half-created while the user's balance is silently
// short.
func (s *OrderService) compensate(ctx context.Context, userID int64, total decimal.Decimal, orderID string) {
	reason := fmt.Sprintf("refund: order creation failed (%s)", orderID)
	if _, err := s.ledger.Credit(ctx, userID, total, model.TxRefund, reason, nil); err != nil {
		// Refund failure leaves real money missing; this line is the
		// operator's alarm.
		log.Printf("[OrderService] INCIDENT order=%s user=%d: COMPENSATING REFUND FAILED amount=%s: %v",
			orderID, userID, total.String(), err)
	}
}
