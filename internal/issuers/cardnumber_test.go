package issuers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLuhnCheck(t *testing.T) {
	require.True(t, LuhnCheck("4111111111111111"))
	require.False(t, LuhnCheck("4111111111111112"))
	require.False(t, LuhnCheck(""))
	require.False(t, LuhnCheck("4111x11111111111"))
}

func TestClassifyNumber_Networks(t *testing.T) {
	cases := []struct {
		number  string
		network string
	}{
		{"4111111111111111", "VISA"},
		{"5500005555555559", "MASTERCARD"},
		{"378282246310005", "AMEX"},
		{"6011111111111117", "DISCOVER"},
	}
	for _, c := range cases {
		info := ClassifyNumber(c.number)
		require.Equal(t, c.network, info.Network, c.number)
		require.True(t, info.IsValid, c.number)
	}
}

func TestClassifyNumber_UnknownStillChecksums(t *testing.T) {
	// Паттерн не распознан, но контрольная сумма считается независимо.
	info := ClassifyNumber("9792050000000008")
	require.Equal(t, "OTHER", info.Network)
	require.True(t, info.IsValid)

	info = ClassifyNumber("9792050000000001")
	require.Equal(t, "OTHER", info.Network)
	require.False(t, info.IsValid)
}

func TestClassifyNumber_IssuerBIN(t *testing.T) {
	info := ClassifyNumber("4147202488394599")
	require.Equal(t, "VISA", info.Network)
	require.Equal(t, "CHASE", info.Issuer)
	require.Equal(t, int32(90), info.Terms.ProtectionDays)
}

func TestMaskNumber(t *testing.T) {
	require.Equal(t, "411111******1111", MaskNumber("4111111111111111"))
	require.Equal(t, "378282*****0005", MaskNumber("378282246310005"))
	require.Equal(t, "****", MaskNumber("1234"))
}

func TestLookup_DefaultEntry(t *testing.T) {
	iss := Lookup("NO_SUCH_BANK")
	require.Equal(t, "UNKNOWN", iss.ID)
	require.Equal(t, int32(60), iss.Terms.ProtectionDays)
	require.Equal(t, int64(25000), iss.Terms.MaxClaimCents)
	require.NotEmpty(t, iss.ClaimEmail)
}

func TestClassifyHint(t *testing.T) {
	require.Equal(t, "CHASE", ClassifyHint("your Chase Visa card").ID)
	require.Equal(t, "AMEX", ClassifyHint("American Express Platinum").ID)
	require.Equal(t, "BANK_OF_AMERICA", ClassifyHint("BofA rewards").ID)

	// Сеть без банка: эмитент неизвестен, сеть известна.
	iss := ClassifyHint("Visa card")
	require.Equal(t, "UNKNOWN", iss.ID)
	require.Equal(t, "VISA", iss.Network)

	require.Equal(t, "UNKNOWN", ClassifyHint("some credit union").ID)
}

func TestNetworkClaimEmail(t *testing.T) {
	addr, ok := NetworkClaimEmail("VISA")
	require.True(t, ok)
	require.NotEmpty(t, addr)

	_, ok = NetworkClaimEmail("OTHER")
	require.False(t, ok)
}
