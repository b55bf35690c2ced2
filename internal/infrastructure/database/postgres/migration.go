// internal/infrastructure/database/postgres/migration.go
package postgres

import (
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/your-org/inventory-backend/internal/domain/ledger"
	"github.com/your-org/inventory-backend/internal/domain/reservation"
	"github.com/your-org/inventory-backend/internal/domain/user"
	"github.com/your-org/inventory-backend/internal/domain/valuation"
)

// Migration handles database migrations
type Migration struct {
	db *gorm.DB
}

// NewMigration creates a new migration instance
func NewMigration(db *gorm.DB) *Migration {
	return &Migration{
		db: db,
	}
}

// RunAutoMigrations runs GORM auto-migrations for all models
func (m *Migration) RunAutoMigrations() error {
	log.Println("🔄 Running database auto-migrations...")

	// Define all models that need migration in dependency order
	models := []interface{}{
		// Operator accounts - base table
		&user.Operator{},

		// Stock ledger
		&ledger.StockPosition{},
		&ledger.Movement{},

		// Valuation layers
		&valuation.ValuationLayer{},

		// Reservations
		&reservation.Reservation{},
		&reservation.ReservationItem{},
		&reservation.Allocation{},
	}

	for _, model := range models {
		log.Printf("Migrating model: %T", model)
		if err := m.db.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
	}

	log.Println("✅ Database auto-migrations completed successfully")
	return nil
}

// CreateIndexes creates additional indexes for better performance
func (m *Migration) CreateIndexes() error {
	log.Println("🔄 Creating additional database indexes...")

	indexes := []string{
		// Operator indexes
		"CREATE INDEX IF NOT EXISTS idx_operators_email_active ON operators(email, is_active)",

		// Position indexes
		"CREATE INDEX IF NOT EXISTS idx_positions_tenant_product ON stock_positions(tenant_id, product_id, variant_id)",
		"CREATE INDEX IF NOT EXISTS idx_positions_tenant_warehouse ON stock_positions(tenant_id, warehouse_id)",
		"CREATE INDEX IF NOT EXISTS idx_positions_available ON stock_positions(tenant_id, product_id, is_active) WHERE available > 0",
		"CREATE INDEX IF NOT EXISTS idx_positions_expiry ON stock_positions(expiry_date) WHERE expiry_date IS NOT NULL",

		// Movement indexes
		"CREATE INDEX IF NOT EXISTS idx_movements_tenant_created ON movements(tenant_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_movements_type_status ON movements(type, status)",
		"CREATE INDEX IF NOT EXISTS idx_movements_reversal ON movements(reversal_of_id) WHERE reversal_of_id IS NOT NULL",

		// Valuation layer indexes
		"CREATE INDEX IF NOT EXISTS idx_layers_position_open ON valuation_layers(tenant_id, position_id, fully_consumed)",
		"CREATE INDEX IF NOT EXISTS idx_layers_position_sequence ON valuation_layers(tenant_id, position_id, sequence)",

		// Reservation indexes
		"CREATE INDEX IF NOT EXISTS idx_reservations_tenant_status ON reservations(tenant_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_reservations_expiry_sweep ON reservations(status, expires_at)",
		"CREATE INDEX IF NOT EXISTS idx_reservation_items_reservation ON reservation_items(reservation_id)",
		"CREATE INDEX IF NOT EXISTS idx_reservation_items_product ON reservation_items(tenant_id, product_id)",
		"CREATE INDEX IF NOT EXISTS idx_allocations_item ON allocations(reservation_item_id)",
		"CREATE INDEX IF NOT EXISTS idx_allocations_position_status ON allocations(position_id, status)",
	}

	successCount := 0
	failCount := 0

	for _, indexSQL := range indexes {
		if err := m.db.Exec(indexSQL).Error; err != nil {
			log.Printf("⚠️ Failed to create index: %v", err)
			failCount++
		} else {
			successCount++
		}
	}

	log.Printf("✅ Created %d indexes successfully (%d failed)", successCount, failCount)
	return nil
}

// SeedInitialData inserts initial data into the database
func (m *Migration) SeedInitialData() error {
	log.Println("🌱 Seeding initial data...")

	if err := m.seedAdminOperator(); err != nil {
		return fmt.Errorf("failed to seed admin operator: %w", err)
	}

	log.Println("✅ Initial data seeded successfully")
	return nil
}

// seedAdminOperator creates the default admin operator for development
func (m *Migration) seedAdminOperator() error {
	log.Println("👤 Seeding admin operator...")

	var existing user.Operator
	result := m.db.Where("email = ?", "admin@example.com").First(&existing)
	if result.Error != nil {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte("Admin1234"), 10)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		admin := user.Operator{
			Email:     "admin@example.com",
			Password:  string(hashedPassword),
			FirstName: "Admin",
			LastName:  "Operator",
			IsActive:  true,
			IsAdmin:   true,
		}

		if err := m.db.Create(&admin).Error; err != nil {
			return fmt.Errorf("failed to create admin operator: %w", err)
		}

		log.Println("✅ Created admin operator: admin@example.com (password: Admin1234)")
	} else {
		log.Printf("⏭️ Admin operator already exists with ID: %d", existing.ID)
	}

	return nil
}

// DropAllTables drops all tables (use with extreme caution)
func (m *Migration) DropAllTables() error {
	log.Println("⚠️ WARNING: Dropping all database tables...")

	// Define tables in reverse dependency order
	tables := []string{
		"allocations",
		"reservation_items",
		"reservations",
		"valuation_layers",
		"movements",
		"stock_positions",
		"operators",
	}

	for _, table := range tables {
		if err := m.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", table)).Error; err != nil {
			log.Printf("⚠️ Failed to drop table %s: %v", table, err)
		} else {
			log.Printf("🗑️ Dropped table: %s", table)
		}
	}

	log.Println("✅ All tables dropped successfully")
	return nil
}

// GetTableInfo returns information about database tables
func (m *Migration) GetTableInfo() error {
	var tables []string

	if err := m.db.Raw("SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename").Scan(&tables).Error; err != nil {
		return err
	}

	log.Println("📊 Database Tables Information:")
	log.Println("================================")

	totalRecords := int64(0)
	for _, table := range tables {
		var count int64
		m.db.Table(table).Count(&count)
		totalRecords += count

		status := "✅"
		if count == 0 {
			status = "📭"
		}

		log.Printf("%s %-25s | %d records", status, table, count)
	}

	log.Println("================================")
	log.Printf("📈 Total records across all tables: %d", totalRecords)
	log.Printf("🗂️ Total tables: %d", len(tables))

	return nil
}
