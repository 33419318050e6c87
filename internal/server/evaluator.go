package server

import (
	"github.com/starlane-games/starlane-server/internal/debugquery"
	"github.com/starlane-games/starlane-server/internal/model"
)

// newEvaluator builds the UDP debug query evaluator over the server's
// published status snapshot. Only scalar values cross the goroutine boundary.
func newEvaluator(s *Server) *debugquery.Evaluator {
	return debugquery.New(func() debugquery.Snapshot {
		st := s.CurrentStatus()
		hostID := int(st.HostID)
		hasHost := st.HostID != model.InvalidPlayerID
		return debugquery.Snapshot{
			"state":       st.State,
			"turn":        st.Turn,
			"sessions":    st.Sessions,
			"established": st.Established,
			"host_id":     hostID,
			"has_host":    hasHost,
			"game_name":   st.GameName,
		}
	}, s.logger)
}
