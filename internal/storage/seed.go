package storage

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/kyleking/askdb/internal/sqlexec"
)

var (
	regions        = []string{"North", "South", "East", "West", "Central"}
	paymentMethods = []string{"credit_card", "ach", "wire", "paypal"}
)

type productCategory struct {
	name      string
	basePrice float64
	maxPrice  float64
}

var productCategories = []productCategory{
	{"Hardware", 49, 399},
	{"Subscription", 99, 599},
	{"Services", 150, 850},
	{"Accessories", 19, 149},
}

const (
	defaultCustomerCount = 150
	defaultOrderCount    = 220
	productsPerCategory  = 10
)

const seedSchema = `
DROP TABLE IF EXISTS payments;
DROP TABLE IF EXISTS orders;
DROP TABLE IF EXISTS products;
DROP TABLE IF EXISTS customers;

CREATE TABLE customers (
	customer_id INTEGER PRIMARY KEY,
	full_name TEXT NOT NULL,
	email TEXT UNIQUE NOT NULL,
	region TEXT NOT NULL
);

CREATE TABLE products (
	product_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	price REAL NOT NULL
);

CREATE TABLE orders (
	order_id INTEGER PRIMARY KEY,
	customer_id INTEGER NOT NULL REFERENCES customers(customer_id),
	product_id INTEGER NOT NULL REFERENCES products(product_id),
	order_date TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	total_amount REAL NOT NULL
);

CREATE TABLE payments (
	payment_id INTEGER PRIMARY KEY,
	order_id INTEGER NOT NULL REFERENCES orders(order_id),
	method TEXT NOT NULL,
	amount REAL NOT NULL,
	payment_date TEXT NOT NULL
);
`

// Customer is a row of the sample customers table.
type Customer struct {
	ID     int
	Name   string
	Email  string
	Region string
}

// Product is a row of the sample products table.
type Product struct {
	ID       int
	Name     string
	Category string
	Price    float64
}

// Order is a row of the sample orders table.
type Order struct {
	ID         int
	CustomerID int
	ProductID  int
	OrderDate  string
	Quantity   int
	Total      float64
}

// Payment is a row of the sample payments table.
type Payment struct {
	ID          int
	OrderID     int
	Method      string
	Amount      float64
	PaymentDate string
}

// Dataset is the full sample analytics dataset.
type Dataset struct {
	Customers []Customer
	Products  []Product
	Orders    []Order
	Payments  []Payment
}

// SeedOptions tunes sample data generation.
type SeedOptions struct {
	// Realistic replaces the "Customer 001" placeholders with generated names.
	Realistic bool
	// FakerSeed fixes the name generator so realistic datasets are reproducible.
	FakerSeed uint64
}

// GenerateDataset builds the deterministic sample dataset.
func GenerateDataset(opts SeedOptions) Dataset {
	var faker *gofakeit.Faker
	if opts.Realistic {
		faker = gofakeit.New(opts.FakerSeed)
	}

	customers := generateCustomers(defaultCustomerCount, faker)
	products := generateProducts()
	orders, payments := generateOrders(customers, products, defaultOrderCount)

	return Dataset{Customers: customers, Products: products, Orders: orders, Payments: payments}
}

func generateCustomers(count int, faker *gofakeit.Faker) []Customer {
	customers := make([]Customer, 0, count)

	for idx := 1; idx <= count; idx++ {
		c := Customer{
			ID:     idx,
			Name:   fmt.Sprintf("Customer %03d", idx),
			Email:  fmt.Sprintf("customer%03d@example.com", idx),
			Region: regions[idx%len(regions)],
		}

		if faker != nil {
			first, last := faker.FirstName(), faker.LastName()
			c.Name = first + " " + last
			c.Email = fmt.Sprintf("%s.%s%03d@example.com",
				strings.ToLower(first), strings.ToLower(last), idx)
		}

		customers = append(customers, c)
	}

	return customers
}

func generateProducts() []Product {
	products := make([]Product, 0, len(productCategories)*productsPerCategory)
	id := 1

	for _, cat := range productCategories {
		step := (cat.maxPrice - cat.basePrice) / productsPerCategory
		for i := 1; i <= productsPerCategory; i++ {
			products = append(products, Product{
				ID:       id,
				Name:     fmt.Sprintf("%s Package %d", cat.name, i),
				Category: cat.name,
				Price:    round2(cat.basePrice + float64(i)*step),
			})
			id++
		}
	}

	return products
}

func generateOrders(customers []Customer, products []Product, count int) ([]Order, []Payment) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	orders := make([]Order, 0, count)
	payments := make([]Payment, 0, count)

	for id := 1; id <= count; id++ {
		customer := customers[id%len(customers)]
		product := products[id%len(products)]
		quantity := id%5 + 1
		total := round2(product.Price * float64(quantity))
		orderDate := start.AddDate(0, 0, id%365)

		orders = append(orders, Order{
			ID:         id,
			CustomerID: customer.ID,
			ProductID:  product.ID,
			OrderDate:  orderDate.Format(time.DateOnly),
			Quantity:   quantity,
			Total:      total,
		})
		payments = append(payments, Payment{
			ID:          id,
			OrderID:     id,
			Method:      paymentMethods[id%len(paymentMethods)],
			Amount:      total,
			PaymentDate: orderDate.AddDate(0, 0, 1).Format(time.DateOnly),
		})
	}

	return orders, payments
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Seed drops and recreates the sample tables on s and loads the dataset in a
// single transaction.
func Seed(ctx context.Context, s Session, opts SeedOptions) (Dataset, error) {
	if d := s.Driver(); d != DriverSQLite && d != DriverDuckDB {
		return Dataset{}, fmt.Errorf("sample data can only be loaded into sqlite3 or duckdb, not %s", d)
	}

	data := GenerateDataset(opts)

	if s.Driver() == DriverSQLite {
		if _, err := s.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return Dataset{}, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	for _, stmt := range sqlexec.Split(seedSchema) {
		if _, err := s.ExecContext(ctx, string(stmt)); err != nil {
			return Dataset{}, fmt.Errorf("failed to create sample schema: %w", err)
		}
	}

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	inserts := []struct {
		query string
		rows  [][]any
	}{
		{"INSERT INTO customers VALUES (?, ?, ?, ?)", customerArgs(data.Customers)},
		{"INSERT INTO products VALUES (?, ?, ?, ?)", productArgs(data.Products)},
		{"INSERT INTO orders VALUES (?, ?, ?, ?, ?, ?)", orderArgs(data.Orders)},
		{"INSERT INTO payments VALUES (?, ?, ?, ?, ?)", paymentArgs(data.Payments)},
	}

	for _, ins := range inserts {
		stmt, err := tx.PrepareContext(ctx, ins.query)
		if err != nil {
			return Dataset{}, fmt.Errorf("failed to prepare %q: %w", ins.query, err)
		}

		for _, args := range ins.rows {
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				_ = stmt.Close()
				return Dataset{}, fmt.Errorf("failed to insert sample row: %w", err)
			}
		}

		_ = stmt.Close()
	}

	if err := tx.Commit(); err != nil {
		return Dataset{}, fmt.Errorf("failed to commit sample data: %w", err)
	}

	return data, nil
}

func customerArgs(rows []Customer) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = []any{r.ID, r.Name, r.Email, r.Region}
	}

	return out
}

func productArgs(rows []Product) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = []any{r.ID, r.Name, r.Category, r.Price}
	}

	return out
}

func orderArgs(rows []Order) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = []any{r.ID, r.CustomerID, r.ProductID, r.OrderDate, r.Quantity, r.Total}
	}

	return out
}

func paymentArgs(rows []Payment) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = []any{r.ID, r.OrderID, r.Method, r.Amount, r.PaymentDate}
	}

	return out
}
