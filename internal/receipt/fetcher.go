package receipt

import (
	"github.com/golang/glog"

	"purchases/internal/types"
)

// Provider is the platform port that owns the local receipt blob.
type Provider interface {
	// LoadReceipt returns the receipt currently on device, possibly empty.
	LoadReceipt() ([]byte, error)
	// RefreshReceipt asks the platform for a fresh receipt.
	RefreshReceipt() ([]byte, error)
}

// Fetcher retrieves the local purchase receipt with a refresh policy.
type Fetcher struct {
	provider Provider
}

func NewFetcher(provider Provider) *Fetcher {
	return &Fetcher{provider: provider}
}

// ReceiptData returns the receipt blob according to the refresh policy.
// A missing receipt is returned as empty data, not an error; callers decide
// whether that is fatal for their operation.
func (f *Fetcher) ReceiptData(policy types.ReceiptRefreshPolicy) ([]byte, error) {
	switch policy {
	case types.RefreshAlways:
		return f.provider.RefreshReceipt()
	case types.RefreshOnlyIfEmpty:
		data, err := f.provider.LoadReceipt()
		if err != nil {
			return nil, err
		}
		if len(data) > 0 {
			return data, nil
		}
		glog.V(2).Info("local receipt empty, refreshing")
		return f.provider.RefreshReceipt()
	default:
		return f.provider.LoadReceipt()
	}
}
