package database_test

import (
	"context"
	"errors"
	"testing"

	"catalogsync/internal/database"
	"catalogsync/internal/database/dbtest"
	"catalogsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestInTxNestedRollsBackOnlyInnerUnit(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()

	err := database.InTx(ctx, db, func(tx *gorm.DB) error {
		if err := tx.Create(&models.Product{SKU: "OUTER", Name: "outer"}).Error; err != nil {
			return err
		}
		inner := database.InTx(ctx, tx, func(tx2 *gorm.DB) error {
			if err := tx2.Create(&models.Product{SKU: "INNER", Name: "inner"}).Error; err != nil {
				return err
			}
			return errors.New("inner failure")
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)

	var skus []string
	require.NoError(t, db.Model(&models.Product{}).Pluck("sku", &skus).Error)
	assert.Equal(t, []string{"OUTER"}, skus)
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := dbtest.New(t)

	err := database.InTx(context.Background(), db, func(tx *gorm.DB) error {
		if err := tx.Create(&models.Product{SKU: "A", Name: "a"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	var count int64
	db.Model(&models.Product{}).Count(&count)
	assert.Zero(t, count)
}
