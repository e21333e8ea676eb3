package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Collection struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectID   uuid.UUID `gorm:"type:uuid;not null;index"`
	DisplayName string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type CollectionVersion struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	CollectionID uuid.UUID         `gorm:"type:uuid;not null;index"`
	DisplayName  string            `gorm:"type:text;not null"`
	Data         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Collection   Collection        `gorm:"foreignKey:CollectionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Flow struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CollectionID uuid.UUID  `gorm:"type:uuid;not null;index"`
	DisplayName  string     `gorm:"type:text;not null"`
	CreatedAt    time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Collection   Collection `gorm:"foreignKey:CollectionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type FlowVersion struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	FlowID      uuid.UUID         `gorm:"type:uuid;not null;index"`
	DisplayName string            `gorm:"type:text;not null"`
	Data        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Flow        Flow              `gorm:"foreignKey:FlowID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Instance struct {
	ID                  uuid.UUID         `gorm:"type:uuid;primaryKey"`
	ProjectID           uuid.UUID         `gorm:"type:uuid;not null;index"`
	CollectionID        uuid.UUID         `gorm:"type:uuid;not null"`
	CollectionVersionID uuid.UUID         `gorm:"type:uuid;not null"`
	CreatedAt           time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Collection          Collection        `gorm:"foreignKey:CollectionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CollectionVersion   CollectionVersion `gorm:"foreignKey:CollectionVersionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Run struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ProjectID             uuid.UUID  `gorm:"type:uuid;not null;index:idx_runs_project_started,priority:1"`
	CollectionID          uuid.UUID  `gorm:"type:uuid;not null"`
	CollectionVersionID   uuid.UUID  `gorm:"type:uuid;not null"`
	FlowID                uuid.UUID  `gorm:"type:uuid;not null;index"`
	FlowVersionID         uuid.UUID  `gorm:"type:uuid;not null"`
	InstanceID            *uuid.UUID `gorm:"type:uuid;index"`
	FlowDisplayName       string     `gorm:"type:text;not null"`
	CollectionDisplayName string     `gorm:"type:text;not null"`
	Status                string     `gorm:"type:text;not null"`
	StartedAt             time.Time  `gorm:"type:timestamptz;not null;index:idx_runs_project_started,priority:2,sort:desc"`
	FinishedAt            *time.Time `gorm:"type:timestamptz"`
	LogsFileID            *uuid.UUID `gorm:"type:uuid"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Collection{},
		&CollectionVersion{},
		&Flow{},
		&FlowVersion{},
		&Instance{},
		&Run{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&CollectionVersion{}, "Collection"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Flow{}, "Collection"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&FlowVersion{}, "Flow"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Instance{}, "Collection"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Instance{}, "CollectionVersion"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&Run{},
		&Instance{},
		&FlowVersion{},
		&Flow{},
		&CollectionVersion{},
		&Collection{},
	); err != nil {
		return err
	}

	return nil
}
