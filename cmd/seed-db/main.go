package main

import (
	"context"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/cartstream/storefront/internal/domain/auth"
	"github.com/cartstream/storefront/internal/domain/coupon"
	"github.com/cartstream/storefront/internal/storage/postgres"
	"github.com/cartstream/storefront/pkg/ist"
)

type seedUser struct {
	Username string
	Email    string
	Role     auth.Role
}

type seedVariant struct {
	Size   string
	Color  string
	Price  decimal.Decimal
	Stock  int
	Images []string
}

type seedItem struct {
	Owner       string
	Title       string
	Description string
	Variants    []seedVariant
}

var users = []seedUser{
	{Username: "admin", Email: "admin@storefront.local", Role: auth.RoleAdmin},
	{Username: "northwind", Email: "owner@northwind.local", Role: auth.RoleShopOwner},
	{Username: "bluebird", Email: "owner@bluebird.local", Role: auth.RoleShopOwner},
	{Username: "alice", Email: "alice@storefront.local", Role: auth.RoleCustomer},
}

var items = []seedItem{
	{
		Owner:       "northwind",
		Title:       "Linen Shirt",
		Description: "Breathable linen shirt with a relaxed fit",
		Variants: []seedVariant{
			{Size: "M", Color: "white", Price: decimal.RequireFromString("1299.00"), Stock: 25, Images: []string{"/img/linen-white-front.jpg", "/img/linen-white-back.jpg"}},
			{Size: "L", Color: "white", Price: decimal.RequireFromString("1299.00"), Stock: 4, Images: []string{"/img/linen-white-front.jpg"}},
			{Size: "M", Color: "olive", Price: decimal.RequireFromString("1349.00"), Stock: 12, Images: []string{"/img/linen-olive.jpg"}},
		},
	},
	{
		Owner:       "northwind",
		Title:       "Canvas Tote",
		Description: "Heavy canvas tote bag",
		Variants: []seedVariant{
			{Price: decimal.RequireFromString("499.00"), Stock: 60, Images: []string{"/img/tote.jpg"}},
		},
	},
	{
		Owner:       "bluebird",
		Title:       "Ceramic Mug",
		Description: "Hand-glazed 350ml mug",
		Variants: []seedVariant{
			{Color: "blue", Price: decimal.RequireFromString("349.50"), Stock: 40, Images: []string{"/img/mug-blue.jpg"}},
			{Color: "sand", Price: decimal.RequireFromString("349.50"), Stock: 2, Images: []string{"/img/mug-sand.jpg"}},
		},
	},
}

func main() {
	var (
		databaseURL string
		password    string
		tokenTTL    time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&password, "password", "password", "password set for every seeded user")
	flag.DurationVar(&tokenTTL, "token-ttl", 0, "lifetime of printed access tokens (default ACCESS_TOKEN_EXPIRE_MINUTES)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("load .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if tokenTTL == 0 {
		tokenTTL = 30 * time.Minute
		if v := os.Getenv("ACCESS_TOKEN_EXPIRE_MINUTES"); v != "" {
			minutes, err := strconv.Atoi(v)
			if err != nil {
				slog.Error("invalid ACCESS_TOKEN_EXPIRE_MINUTES", slog.String("value", v))
				os.Exit(1)
			}
			tokenTTL = time.Duration(minutes) * time.Minute
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, password, os.Getenv("ACCESS_SECRET_KEY"), tokenTTL); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, password, secret string, tokenTTL time.Duration) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	ids, err := seedUsers(ctx, pool, password)
	if err != nil {
		return errors.Wrap(err, "seed users")
	}

	if err := seedCatalog(ctx, pool, ids); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedCoupons(ctx, pool, ids); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if secret == "" {
		slog.Warn("ACCESS_SECRET_KEY not set, skipping access tokens")
		return nil
	}
	return printTokens(ids, []byte(secret), tokenTTL)
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, password string) (map[string]int64, error) {
	slog.Info("upserting users", slog.Int("count", len(users)))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	ids := make(map[string]int64, len(users))
	for _, u := range users {
		var id int64
		if err := pool.QueryRow(ctx, `
			INSERT INTO users (username, email, password_hash, role, is_verified, created_at)
			VALUES ($1, $2, $3, $4, TRUE, $5)
			ON CONFLICT (username) DO UPDATE
			SET email = EXCLUDED.email, password_hash = EXCLUDED.password_hash, role = EXCLUDED.role, is_verified = TRUE
			RETURNING id`,
			u.Username, u.Email, string(hash), string(u.Role), ist.Wall(ist.Now()),
		).Scan(&id); err != nil {
			return nil, errors.Wrapf(err, "upsert user %s", u.Username)
		}
		ids[u.Username] = id

		slog.Info("upserted user", slog.Int64("id", id), slog.String("username", u.Username), slog.String("role", string(u.Role)))
	}

	return ids, nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, ids map[string]int64) error {
	slog.Info("upserting items", slog.Int("count", len(items)))

	for _, it := range items {
		ownerID, ok := ids[it.Owner]
		if !ok {
			return errors.Errorf("item %q: unknown owner %q", it.Title, it.Owner)
		}

		var itemID int64
		if err := pool.QueryRow(ctx, `
			WITH existing AS (
				SELECT id FROM items WHERE owner_id = $1 AND title = $2
			), inserted AS (
				INSERT INTO items (title, description, owner_id)
				SELECT $2, $3, $1
				WHERE NOT EXISTS (SELECT 1 FROM existing)
				RETURNING id
			)
			SELECT id FROM inserted
			UNION ALL
			SELECT id FROM existing`,
			ownerID, it.Title, it.Description,
		).Scan(&itemID); err != nil {
			return errors.Wrapf(err, "upsert item %s", it.Title)
		}

		for _, v := range it.Variants {
			variantID, err := upsertVariant(ctx, pool, itemID, v)
			if err != nil {
				return errors.Wrapf(err, "item %s", it.Title)
			}

			slog.Info("upserted variant",
				slog.Int64("item_id", itemID),
				slog.Int64("variant_id", variantID),
				slog.String("title", it.Title),
				slog.String("size", v.Size),
				slog.String("color", v.Color),
				slog.Int("stock", v.Stock),
			)
		}
	}

	return nil
}

func upsertVariant(ctx context.Context, pool *pgxpool.Pool, itemID int64, v seedVariant) (int64, error) {
	var image *string
	if len(v.Images) > 0 {
		image = &v.Images[0]
	}

	var id int64
	if err := pool.QueryRow(ctx, `
		INSERT INTO product_variants (item_id, size, color, price, stock, image_url)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6)
		ON CONFLICT (item_id, COALESCE(size, ''), COALESCE(color, '')) DO UPDATE
		SET price = EXCLUDED.price, stock = EXCLUDED.stock, image_url = EXCLUDED.image_url
		RETURNING id`,
		itemID, v.Size, v.Color, v.Price, v.Stock, image,
	).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "upsert variant")
	}

	if _, err := pool.Exec(ctx, `DELETE FROM variant_images WHERE variant_id = $1`, id); err != nil {
		return 0, errors.Wrap(err, "clear variant images")
	}
	for i, url := range v.Images {
		if _, err := pool.Exec(ctx, `
			INSERT INTO variant_images (variant_id, url, display_order, is_primary)
			VALUES ($1, $2, $3, $4)`,
			id, url, i, i == 0,
		); err != nil {
			return 0, errors.Wrap(err, "insert variant image")
		}
	}

	return id, nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool, ids map[string]int64) error {
	slog.Info("seeding coupons")

	admin := auth.Principal{UserID: ids["admin"], Username: "admin", Role: auth.RoleAdmin}
	owner := auth.Principal{UserID: ids["northwind"], Username: "northwind", Role: auth.RoleShopOwner}

	describe := func(s string) *string { return &s }
	end := ist.Now().AddDate(1, 0, 0)

	coupons := []struct {
		by  auth.Principal
		req coupon.CreateRequest
	}{
		{admin, coupon.CreateRequest{
			Code:         "WELCOME10",
			Description:  describe("10% off your order"),
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			Active:       true,
			EndAt:        &end,
		}},
		{owner, coupon.CreateRequest{
			Code:           "FLAT50",
			Description:    describe("50 off orders of 500 or more"),
			DiscountType:   coupon.DiscountFixed,
			Value:          decimal.NewFromInt(50),
			Active:         true,
			MinOrderAmount: decimal.NewNullDecimal(decimal.NewFromInt(500)),
		}},
		{admin, coupon.CreateRequest{
			Code:         "ONCE",
			Description:  describe("Single use 25% off"),
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(25),
			Active:       true,
			MaxUses:      1,
		}},
	}

	svc := coupon.NewService(postgres.NewCouponRepository(pool))
	for _, c := range coupons {
		created, err := svc.Create(ctx, c.by, c.req)
		if errors.Is(err, coupon.ErrCodeTaken) {
			slog.Info("coupon exists", slog.String("code", c.req.Code))
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "create coupon %s", c.req.Code)
		}

		slog.Info("created coupon", slog.Int64("id", created.ID), slog.String("code", created.Code), slog.String("created_by", c.by.Username))
	}

	return nil
}

func printTokens(ids map[string]int64, secret []byte, ttl time.Duration) error {
	now := time.Now()
	for _, u := range users {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(ids[u.Username], 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		}).SignedString(secret)
		if err != nil {
			return errors.Wrapf(err, "sign token for %s", u.Username)
		}

		slog.Info("access token", slog.String("username", u.Username), slog.String("role", string(u.Role)), slog.String("token", token))
	}
	return nil
}
