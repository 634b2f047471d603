package ws

import (
	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/clamor-chat/clamor/config"
	"github.com/clamor-chat/clamor/globals"
)

// FilterEnv is the evaluation environment of a delivery filter expression.
// UserId is the receiving user.
type FilterEnv struct {
	Event     string
	ChannelId string
	UserId    string
}

func compileFilters(cfgs []config.FilterConfig) (map[string]*vm.Program, error) {
	filters := make(map[string]*vm.Program, len(cfgs))
	for _, fc := range cfgs {
		if fc.Event == "" || fc.Expression == "" {
			continue
		}
		prog, err := expr.Compile(fc.Expression, expr.Env(FilterEnv{}), expr.AsBool())
		if err != nil {
			return nil, err
		}
		filters[fc.Event] = prog
	}
	return filters, nil
}

// runFilter reports whether the event may be delivered. A missing program
// passes everything, an evaluation error suppresses delivery.
func (h *Hub) runFilter(prog *vm.Program, event, channelId, userId string) bool {
	if prog == nil {
		return true
	}
	res, err := expr.Run(prog, FilterEnv{Event: event, ChannelId: channelId, UserId: userId})
	if err != nil {
		globals.AppLogger.Error("could not run delivery filter", "event", event, "error", err)
		return false
	}
	pass, ok := res.(bool)
	return ok && pass
}
