package entity

import (
	"strconv"
)

// The remote store is spreadsheet-backed and its row objects arrive with a
// mix of English and localized column names depending on which sheet
// revision produced them. Decoding is tolerant: the first recognized key
// wins, unrecognized keys are ignored, and missing fields default rather
// than failing mid-pipeline.

func stringField(row map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := row[k]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			return s
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		}
	}
	return ""
}

func floatField(row map[string]any, keys ...string) float64 {
	for _, k := range keys {
		v, ok := row[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n
		case string:
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f
			}
		}
	}
	return 0
}

func intField(row map[string]any, keys ...string) int {
	return int(floatField(row, keys...))
}

func versionField(row map[string]any, keys ...string) Version {
	for _, k := range keys {
		v, ok := row[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			if n != 0 {
				return At(int64(n))
			}
		case string:
			if s, err := strconv.ParseInt(n, 10, 64); err == nil && s != 0 {
				return At(s)
			}
		}
	}
	return Unversioned()
}

// DecodeCustomer builds a Customer from a raw pulled row.
func DecodeCustomer(row map[string]any) Customer {
	return Customer{
		Meta: Meta{
			ID:          stringField(row, "id", "customerId"),
			LastUpdated: versionField(row, "lastUpdated"),
		},
		Name:    stringField(row, "name", "customerName", "姓名"),
		Phone:   stringField(row, "phone", "電話"),
		Address: stringField(row, "address", "地址"),
		Note:    stringField(row, "note", "remark", "備註"),
	}
}

// DecodeProduct builds a Product from a raw pulled row.
func DecodeProduct(row map[string]any) Product {
	return Product{
		Meta: Meta{
			ID:          stringField(row, "id", "productId"),
			LastUpdated: versionField(row, "lastUpdated"),
		},
		Name:      stringField(row, "name", "productName", "品名"),
		Unit:      stringField(row, "unit", "單位"),
		Price:     floatField(row, "price", "單價"),
		SortOrder: intField(row, "sortOrder", "order"),
		Note:      stringField(row, "note", "備註"),
	}
}

// OrderRow is one flat line-item row as the remote store returns it. Rows
// sharing an order id belong to the same order.
type OrderRow struct {
	OrderID       string
	CustomerID    string
	CustomerName  string
	DeliveryDate  string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Note          string
	LastUpdated   Version
	Item          OrderItem
}

// DecodeOrderRow builds an OrderRow from a raw pulled row.
func DecodeOrderRow(row map[string]any) OrderRow {
	status := OrderStatus(stringField(row, "status", "orderStatus"))
	if status == "" {
		status = OrderPending
	}
	payment := PaymentStatus(stringField(row, "paymentStatus"))
	if payment == "" {
		payment = PaymentUnpaid
	}
	return OrderRow{
		OrderID:       stringField(row, "id", "orderId"),
		CustomerID:    stringField(row, "customerId"),
		CustomerName:  stringField(row, "customerName", "客戶"),
		DeliveryDate:  stringField(row, "deliveryDate", "date", "日期"),
		Status:        status,
		PaymentStatus: payment,
		Note:          stringField(row, "note", "備註"),
		LastUpdated:   versionField(row, "lastUpdated"),
		Item: OrderItem{
			ProductID:   stringField(row, "productId"),
			ProductName: stringField(row, "productName", "品名"),
			Quantity:    floatField(row, "quantity", "數量"),
			Unit:        stringField(row, "unit", "單位"),
			Price:       floatField(row, "price", "單價"),
		},
	}
}

// GroupOrderRows folds flat line-item rows into orders, one per order id,
// preserving first-seen order. Rows without an order id are dropped. The
// order-level fields are taken from the first row of each group; the
// version stamp is the greatest stamp seen in the group, since the remote
// store rewrites every row of an order on update.
func GroupOrderRows(rows []OrderRow) []Order {
	var ordered []string
	byID := make(map[string]*Order)

	for _, r := range rows {
		if r.OrderID == "" {
			continue
		}
		o, ok := byID[r.OrderID]
		if !ok {
			o = &Order{
				Meta: Meta{
					ID:          r.OrderID,
					LastUpdated: r.LastUpdated,
				},
				CustomerID:    r.CustomerID,
				CustomerName:  r.CustomerName,
				DeliveryDate:  r.DeliveryDate,
				Status:        r.Status,
				PaymentStatus: r.PaymentStatus,
				Note:          r.Note,
			}
			byID[r.OrderID] = o
			ordered = append(ordered, r.OrderID)
		}
		if o.LastUpdated.Compare(r.LastUpdated) < 0 {
			o.LastUpdated = r.LastUpdated
		}
		if r.Item.ProductName != "" || r.Item.Quantity != 0 {
			o.Items = append(o.Items, r.Item)
		}
	}

	out := make([]Order, 0, len(ordered))
	for _, id := range ordered {
		out = append(out, *byID[id])
	}
	return out
}
