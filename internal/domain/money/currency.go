package money

import (
	"fmt"
	"strings"

	"github.com/garyjia/invoice-engine/internal/domain/entity"
	"github.com/garyjia/invoice-engine/pkg/utils"
)

// DefaultExponent is the number of minor-unit digits for currencies not
// listed in minorUnits
const DefaultExponent int32 = 2

// minorUnits lists ISO 4217 currencies whose minor unit is not two digits
var minorUnits = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// Exponent returns the number of minor-unit digits of a currency
func Exponent(currency string) int32 {
	if exp, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return exp
	}
	return DefaultExponent
}

// NormalizeCurrency upper-cases and validates a currency code
func NormalizeCurrency(currency string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if err := utils.ValidateCurrencyCode(code); err != nil {
		return "", fmt.Errorf("%w: %v", entity.ErrInvalidCurrency, err)
	}
	return code, nil
}
