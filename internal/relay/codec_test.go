package relay

import (
	"errors"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harry0M/oikos-sub001/internal/models"
)

func TestEncodeDebtNotification_Golden(t *testing.T) {
	data, err := EncodeDebtNotification(models.DebtNotification{
		Key:             "d-1",
		DebtID:          "d-1",
		SenderID:        "u1",
		SenderName:      "Zoë",
		Type:            models.DebtTypeDebt,
		TotalAmount:     500,
		RemainingAmount: 500,
		Description:     "Concert tickets",
		CreatedAt:       1700000000,
	})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "debt_notification", data)
}

func TestEncodeSettlementNotification_Golden(t *testing.T) {
	data, err := EncodeSettlementNotification(models.SettlementNotification{
		Key:          "p-1",
		SettlementID: "p-1",
		DebtID:       "d-1",
		SenderID:     "u1",
		SenderName:   "Ann",
		Amount:       250,
		Note:         "cash",
		CreatedAt:    1700000100,
	})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "settlement_notification", data)
}

func TestDecodeDebtNotification(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		n, err := DecodeDebtNotification("k1", []byte(`{"debtId":"d1","senderId":"u1","type":"CREDIT","totalAmount":75.5}`))
		require.NoError(t, err)
		assert.Equal(t, "k1", n.Key)
		assert.Equal(t, models.DebtTypeCredit, n.Type)
		assert.Equal(t, 75.5, n.RemainingAmount)
		assert.Equal(t, UnknownSender, n.SenderName)
		assert.False(t, n.IsProcessed)
	})

	t.Run("keeps explicit zero remaining", func(t *testing.T) {
		n, err := DecodeDebtNotification("k1", []byte(`{"debtId":"d1","senderId":"u1","type":"DEBT","totalAmount":10,"remainingAmount":0}`))
		require.NoError(t, err)
		assert.Equal(t, 0.0, n.RemainingAmount)
	})

	t.Run("normalises sender name", func(t *testing.T) {
		n, err := DecodeDebtNotification("k1", []byte(`{"debtId":"d1","senderId":"u1","senderName":" Zoë ","type":"DEBT","totalAmount":10}`))
		require.NoError(t, err)
		assert.Equal(t, "Zoë", n.SenderName)
	})

	malformed := map[string]string{
		"not json":           `{`,
		"missing debt id":    `{"senderId":"u1","type":"DEBT","totalAmount":10}`,
		"unknown type":       `{"debtId":"d1","senderId":"u1","type":"LOAN","totalAmount":10}`,
		"zero amount":        `{"debtId":"d1","senderId":"u1","type":"DEBT","totalAmount":0}`,
		"amount as string":   `{"debtId":"d1","senderId":"u1","type":"DEBT","totalAmount":"10"}`,
		"remaining too high": `{"debtId":"d1","senderId":"u1","type":"DEBT","totalAmount":10,"remainingAmount":11}`,
		"array":              `[]`,
	}
	for name, payload := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeDebtNotification("k1", []byte(payload))
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestDecodeSettlementNotification(t *testing.T) {
	n, err := DecodeSettlementNotification("p-9", []byte(`{"senderId":"u2","amount":250}`))
	require.NoError(t, err)
	assert.Equal(t, "p-9", n.SettlementID)
	assert.Equal(t, 250.0, n.Amount)
	assert.Equal(t, UnknownSender, n.SenderName)

	_, err = DecodeSettlementNotification("p-9", []byte(`{"senderId":"u2","amount":-5}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeSettlementNotification("p-9", []byte(`{"amount":5}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRoundTripsEncodedDebt(t *testing.T) {
	in := models.DebtNotification{DebtID: "d1", SenderID: "u1", SenderName: "Ann", Type: models.DebtTypeDebt, TotalAmount: 12.34, RemainingAmount: 2.34, DueDate: 1800000000}
	data, err := EncodeDebtNotification(in)
	require.NoError(t, err)

	out, err := DecodeDebtNotification("d1", data)
	require.NoError(t, err)
	in.Key = "d1"
	assert.Equal(t, in, out)
}
