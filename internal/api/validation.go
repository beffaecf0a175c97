package api

import (
	"fmt"
	"strings"

	"github.com/Checker-Finance/relay-adapter/internal/bridge"
	"github.com/Checker-Finance/relay-adapter/pkg/units"
)

func (r BridgeCreateRequest) Validate() error {
	if strings.TrimSpace(r.ClientID) == "" {
		return fmt.Errorf("clientId is required")
	}
	if r.Decimals < 0 || r.Decimals > 36 {
		return fmt.Errorf("decimals must be between 0 and 36")
	}
	req, err := bridge.NormalizeRequest(toBridgeRequest(r))
	if err != nil {
		return err
	}
	if _, err := units.ToBaseUnits(req.Amount, req.Decimals); err != nil {
		return err
	}
	return nil
}
