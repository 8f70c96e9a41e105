package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrInvalidAmount = errors.New("invalid ledger amount")

// Amount is the ledger's single amount union: a string value is native
// currency in drops, an object is an issued-currency tuple. Both arrive
// in the same transaction field.
type Amount struct {
	Issued   bool
	Drops    uint64
	Currency string
	Issuer   string
	Value    string
}

// NativeAmount builds a native amount from a drops value.
func NativeAmount(drops uint64) Amount {
	return Amount{Drops: drops}
}

// DropsString renders the native value; issued amounts carry no native
// value and render as "0".
func (a Amount) DropsString() string {
	if a.Issued {
		return "0"
	}
	return strconv.FormatUint(a.Drops, 10)
}

func (a Amount) String() string {
	if a.Issued {
		return fmt.Sprintf("%s %s/%s", a.Value, a.Currency, a.Issuer)
	}
	return a.DropsString() + " drops"
}

type issuedAmountJSON struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		drops, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: drops %q", ErrInvalidAmount, s)
		}
		*a = Amount{Drops: drops}
		return nil
	case '{':
		var obj issuedAmountJSON
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		*a = Amount{
			Issued:   true,
			Currency: obj.Currency,
			Issuer:   obj.Issuer,
			Value:    obj.Value,
		}
		return nil
	case 'n': // JSON null: field absent in partial records
		*a = Amount{}
		return nil
	default:
		return fmt.Errorf("%w: unexpected token", ErrInvalidAmount)
	}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Issued {
		return json.Marshal(issuedAmountJSON{Currency: a.Currency, Issuer: a.Issuer, Value: a.Value})
	}
	return json.Marshal(a.DropsString())
}
