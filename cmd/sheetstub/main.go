// Command sheetstub runs the in-memory reference backend for local
// development and integration testing. It speaks the same HTTP contract as
// the production spreadsheet-backed store, including best-effort row
// versioning and the websocket change feed.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopsync/shopsync/entity"
	"github.com/shopsync/shopsync/gateway/stubserver"
	"github.com/shopsync/shopsync/logging"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	password := flag.String("password", "", "login password (empty accepts any credentials)")
	seed := flag.Bool("seed", false, "start with a small demo dataset")
	flag.Parse()

	logging.Init(logging.GetConfigFromEnv())

	srv := stubserver.New(*password)
	if *seed {
		seedDemo(srv)
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info("sheetstub listening", slog.String("addr", *addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logging.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}
	logging.Info("sheetstub stopped")
}

func seedDemo(srv *stubserver.Server) {
	today := time.Now().Format("2006-01-02")
	srv.Seed(
		[]entity.Customer{
			{Meta: entity.Meta{ID: "cust-lin"}, Name: "Lin Bakery", Phone: "02-2345-6789", Address: "12 Market St"},
			{Meta: entity.Meta{ID: "cust-chen"}, Name: "Chen Diner", Phone: "02-8765-4321"},
		},
		[]entity.Product{
			{Meta: entity.Meta{ID: "prod-eggs"}, Name: "Eggs", Unit: "tray", Price: 90, SortOrder: 0},
			{Meta: entity.Meta{ID: "prod-milk"}, Name: "Milk", Unit: "bottle", Price: 55, SortOrder: 1},
		},
		[]entity.Order{
			{
				Meta:          entity.Meta{ID: "order-demo"},
				CustomerID:    "cust-lin",
				CustomerName:  "Lin Bakery",
				DeliveryDate:  today,
				Status:        entity.OrderPending,
				PaymentStatus: entity.PaymentUnpaid,
				Items: []entity.OrderItem{
					{ProductID: "prod-eggs", ProductName: "Eggs", Quantity: 3, Unit: "tray", Price: 90},
				},
			},
		},
	)
}
