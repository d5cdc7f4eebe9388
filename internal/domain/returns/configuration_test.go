package returns_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmapos/internal/core/apperror"
	"pharmapos/internal/core/id"
	"pharmapos/internal/domain/returns"
)

func TestConfigure_QuantityBoundaries(t *testing.T) {
	f := newFixture(t)
	set := returns.NewConfigurationSet(f.catalog(t), 1)
	line := f.paracetamol.ID

	_, err := set.Configure(line, returns.ConfigureInput{Quantity: 0, Disposition: returns.DispositionDispose, Reason: "r"})
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, 0, set.Len())

	warn, err := set.Configure(line, returns.ConfigureInput{Quantity: 10, Disposition: returns.DispositionDispose, Reason: "r"})
	require.NoError(t, err)
	assert.Nil(t, warn)

	warn, err = set.Configure(line, returns.ConfigureInput{Quantity: 11, Disposition: returns.DispositionDispose, Reason: "r"})
	require.NoError(t, err)
	require.NotNil(t, warn)
	assert.Equal(t, int64(11), warn.Requested)
	assert.Equal(t, int64(10), warn.Applied)
	assert.Equal(t, int64(10), set.Selected()[0].Quantity)
}

func TestConfigure_ErrorKeepsPreviousConfiguration(t *testing.T) {
	f := newFixture(t)
	set := returns.NewConfigurationSet(f.catalog(t), 1)
	line := f.paracetamol.ID

	_, err := set.Configure(line, returns.ConfigureInput{Quantity: 2, Disposition: returns.DispositionReturnToStock, Reason: "r"})
	require.NoError(t, err)
	_, err = set.Configure(line, returns.ConfigureInput{Quantity: -1, Disposition: returns.DispositionReturnToStock, Reason: "r"})
	require.Error(t, err)

	assert.Equal(t, int64(2), set.Selected()[0].Quantity)
}

func TestConfigure_ExchangeChecks(t *testing.T) {
	f := newFixture(t)
	set := returns.NewConfigurationSet(f.catalog(t), 1)
	line := f.paracetamol.ID

	_, err := set.Configure(line, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionExchange, Reason: "r"})
	require.Error(t, err)
	appErr, _ := apperror.AsAppError(err)
	assert.Contains(t, appErr.Fields(), "replacement")

	same, _ := f.store.Inventory(f.paracetamol.InventoryItemID)
	_, err = set.Configure(line, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionExchange, Reason: "r", Replacement: &same})
	assert.True(t, apperror.IsValidation(err))

	soldOut := f.replacement()
	soldOut.OnHandQuantity = 0
	_, err = set.Configure(line, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionExchange, Reason: "r", Replacement: soldOut})
	assert.True(t, apperror.IsInsufficientStock(err))

	_, err = set.Configure(line, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionExchange, Reason: "r", Replacement: f.replacement()})
	require.NoError(t, err)
	assert.Equal(t, f.ibuprofen.ID, set.Selected()[0].Replacement.ID)
}

func TestConfigure_UnknownDispositionAndLine(t *testing.T) {
	f := newFixture(t)
	set := returns.NewConfigurationSet(f.catalog(t), 1)

	_, err := set.Configure(f.paracetamol.ID, returns.ConfigureInput{Quantity: 1, Disposition: "refurbish", Reason: "r"})
	assert.True(t, apperror.IsValidation(err))

	_, err = set.Configure(id.New(), returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionDispose, Reason: "r"})
	assert.True(t, apperror.IsValidation(err))
	assert.Error(t, set.Select(id.New()))
}

func TestValidate_ReportsEveryField(t *testing.T) {
	f := newFixture(t)
	set := returns.NewConfigurationSet(f.catalog(t), 5)

	err := set.Validate()
	require.Error(t, err)
	assert.False(t, set.IsReady())

	require.NoError(t, set.Select(f.paracetamol.ID))
	_, err = set.Configure(f.amoxicillin.ID, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionDispose, Reason: "bad"})
	require.NoError(t, err)

	err = set.Validate()
	require.Error(t, err)
	appErr, _ := apperror.AsAppError(err)
	assert.Contains(t, appErr.Fields(), "items[0].quantity")
	assert.Contains(t, appErr.Fields(), "items[1].reason")

	set.Deselect(f.paracetamol.ID)
	_, err = set.Configure(f.amoxicillin.ID, returns.ConfigureInput{Quantity: 1, Disposition: returns.DispositionDispose, Reason: "blister torn"})
	require.NoError(t, err)
	assert.True(t, set.IsReady())
}
