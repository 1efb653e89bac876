// Package entity defines the shared data model for the shopsync engine:
// customers, products and delivery orders, each carrying the version stamp
// and sync-status metadata the engine uses for optimistic concurrency.
package entity

// SyncStatus tags a record's relationship to the remote store.
type SyncStatus string

const (
	// StatusSynced means the record matches the last confirmed remote state.
	// It is the zero value for records loaded from a trusted pull.
	StatusSynced SyncStatus = ""

	// StatusPending means an optimistic local change is awaiting confirmation.
	StatusPending SyncStatus = "pending"

	// StatusError means the last write attempt failed; ErrorMessage is set.
	StatusError SyncStatus = "error"
)

// Unsynced reports whether a record in this state must not be overwritten
// by a background pull.
func (s SyncStatus) Unsynced() bool {
	return s == StatusPending || s == StatusError
}

// PendingAction records which kind of write is outstanding for a record,
// so a retry can re-issue the correct remote action.
type PendingAction string

const (
	ActionNone         PendingAction = ""
	ActionCreate       PendingAction = "create"
	ActionUpdate       PendingAction = "update"
	ActionDelete       PendingAction = "delete"
	ActionStatusUpdate PendingAction = "statusUpdate"
)

// Meta carries the sync metadata shared by every record kind. Business-field
// comparisons must exclude everything in here.
type Meta struct {
	ID            string        `json:"id"`
	LastUpdated   Version       `json:"lastUpdated,omitempty"`
	SyncStatus    SyncStatus    `json:"syncStatus,omitempty"`
	PendingAction PendingAction `json:"pendingAction,omitempty"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
}

// Customer is a buyer record.
type Customer struct {
	Meta
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Note    string `json:"note,omitempty"`
}

// SameBusiness reports whether the business fields of two customers match,
// ignoring sync metadata.
func (c Customer) SameBusiness(other Customer) bool {
	return c.Name == other.Name &&
		c.Phone == other.Phone &&
		c.Address == other.Address &&
		c.Note == other.Note
}

// Product is a sellable item.
type Product struct {
	Meta
	Name      string  `json:"name"`
	Unit      string  `json:"unit,omitempty"`
	Price     float64 `json:"price"`
	SortOrder int     `json:"sortOrder,omitempty"`
	Note      string  `json:"note,omitempty"`
}

// SameBusiness reports whether the business fields of two products match,
// ignoring sync metadata.
func (p Product) SameBusiness(other Product) bool {
	return p.Name == other.Name &&
		p.Unit == other.Unit &&
		p.Price == other.Price &&
		p.SortOrder == other.SortOrder &&
		p.Note == other.Note
}

// OrderStatus is the delivery lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// PaymentStatus is the settlement state of an order.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID   string  `json:"productId,omitempty"`
	ProductName string  `json:"productName"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit,omitempty"`
	Price       float64 `json:"price"`
}

// Order is a delivery order with its line items. The remote store keeps
// orders as flat line-item rows; Items is the grouped client-side view.
type Order struct {
	Meta
	CustomerID    string        `json:"customerId,omitempty"`
	CustomerName  string        `json:"customerName"`
	DeliveryDate  string        `json:"deliveryDate"` // ISO date, e.g. 2026-08-30
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	Note          string        `json:"note,omitempty"`
	Items         []OrderItem   `json:"items"`
}

// SameBusiness reports whether the business fields of two orders match,
// ignoring sync metadata.
func (o Order) SameBusiness(other Order) bool {
	if o.CustomerID != other.CustomerID ||
		o.CustomerName != other.CustomerName ||
		o.DeliveryDate != other.DeliveryDate ||
		o.Status != other.Status ||
		o.PaymentStatus != other.PaymentStatus ||
		o.Note != other.Note ||
		len(o.Items) != len(other.Items) {
		return false
	}
	for i := range o.Items {
		if o.Items[i] != other.Items[i] {
			return false
		}
	}
	return true
}
