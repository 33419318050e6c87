// Package lobby manages the shared roster and galaxy setup negotiated before
// a game starts. The controller is stateless; it operates on a LobbyData
// owned by the game flow layer.
package lobby

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/starlane-games/starlane-server/internal/config"
	"github.com/starlane-games/starlane-server/internal/dependencies/random"
	"github.com/starlane-games/starlane-server/internal/model"
)

// DefaultStartingSpecies seeds new roster rows
const DefaultStartingSpecies = "SP_HUMAN"

// fallbackPlayerName replaces an empty requested name
const fallbackPlayerName = "Player"

// empireColorPalette is cycled when assigning distinct colors to new rows
var empireColorPalette = []model.EmpireColor{
	{R: 0, G: 255, B: 0, A: 255},
	{R: 0, G: 0, B: 255, A: 255},
	{R: 255, G: 0, B: 0, A: 255},
	{R: 255, G: 255, B: 0, A: 255},
	{R: 0, G: 255, B: 255, A: 255},
	{R: 255, G: 0, B: 255, A: 255},
	{R: 255, G: 128, B: 0, A: 255},
	{R: 128, G: 0, B: 255, A: 255},
	{R: 128, G: 128, B: 128, A: 255},
	{R: 128, G: 64, B: 0, A: 255},
	{R: 0, G: 128, B: 64, A: 255},
	{R: 192, G: 192, B: 255, A: 255},
}

// Controller validates and mutates lobby rosters
type Controller struct {
	cfg    config.Config
	random random.Random
	logger *slog.Logger
}

// NewController creates a lobby controller
func NewController(cfg config.Config, rnd random.Random, logger *slog.Logger) *Controller {
	return &Controller{cfg: cfg, random: rnd, logger: logger}
}

// NewLobby returns a fresh lobby with a randomized galaxy seed
func (c *Controller) NewLobby() *model.LobbyData {
	l := model.NewLobbyData()
	l.GalaxySetup.Seed = fmt.Sprintf("%d", c.random.Int63())
	return l
}

// UniquePlayerName resolves a requested name against the roster, appending a
// numeric suffix on collision. maxAttempts caps the search; the caller sizes
// it from the roster plus outstanding cookies. Empty requests become
// "Player".
func (c *Controller) UniquePlayerName(l *model.LobbyData, requested string, maxAttempts int) (string, error) {
	base := strings.TrimSpace(requested)
	if base == "" {
		base = fallbackPlayerName
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	taken := make(map[string]bool, len(l.Players))
	for i := range l.Players {
		taken[l.Players[i].PlayerName] = true
	}
	if !taken[base] {
		return base, nil
	}
	for suffix := 2; suffix <= maxAttempts+1; suffix++ {
		candidate := fmt.Sprintf("%s%d", base, suffix)
		if !taken[candidate] {
			return candidate, nil
		}
	}
	return "", model.ErrNameExhausted
}

// uniqueEmpireName derives a distinct empire name from a player name
func (c *Controller) uniqueEmpireName(l *model.LobbyData, base string) string {
	taken := make(map[string]bool, len(l.Players))
	for i := range l.Players {
		taken[l.Players[i].EmpireName] = true
	}
	if !taken[base] {
		return base
	}
	for suffix := 2; ; suffix++ {
		candidate := fmt.Sprintf("%s%d", base, suffix)
		if !taken[candidate] {
			return candidate
		}
	}
}

// nextColor picks a palette color no roster row is using yet
func (c *Controller) nextColor(l *model.LobbyData) model.EmpireColor {
	used := make(map[model.EmpireColor]bool, len(l.Players))
	for i := range l.Players {
		used[l.Players[i].EmpireColor] = true
	}
	for _, color := range empireColorPalette {
		if !used[color] {
			return color
		}
	}
	// Palette exhausted; derive a random distinct color
	for {
		color := model.EmpireColor{
			R: uint8(c.random.Intn(256)),
			G: uint8(c.random.Intn(256)),
			B: uint8(c.random.Intn(256)),
			A: 255,
		}
		if !used[color] {
			return color
		}
	}
}

// AddPlayer appends a roster row for an established session. The player name
// must already be unique (see UniquePlayerName); empire name and color are
// derived to keep the roster invariants.
func (c *Controller) AddPlayer(l *model.LobbyData, id model.PlayerID, name string, t model.ClientType, authenticated bool) *model.PlayerSetupData {
	row := model.PlayerSetupData{
		PlayerID:         id,
		PlayerName:       name,
		ClientType:       t,
		SaveGameEmpireID: model.NoSaveGameEmpire,
		Authenticated:    authenticated,
	}
	if t.ControlsEmpire() {
		row.EmpireName = c.uniqueEmpireName(l, name)
		row.EmpireColor = c.nextColor(l)
		row.StartingSpecies = DefaultStartingSpecies
		// AI players are always ready
		row.Ready = t == model.ClientTypeAIPlayer
	} else {
		// Observers and moderators hold no empire and never block the start
		row.Ready = true
	}
	l.Players = append(l.Players, row)
	return &l.Players[len(l.Players)-1]
}

// RemovePlayer drops the roster row for a departed player and reports
// whether anything changed
func (c *Controller) RemovePlayer(l *model.LobbyData, id model.PlayerID) bool {
	return l.RemoveRow(id)
}

// Admissible reports whether a new participant of the given type may join
// the lobby under the configured bounds
func (c *Controller) Admissible(l *model.LobbyData, t model.ClientType) error {
	switch t {
	case model.ClientTypeHumanPlayer:
		if l.CountType(model.ClientTypeHumanPlayer) >= c.cfg.MaxHumanPlayers {
			return model.ErrClientTypeDenied
		}
	case model.ClientTypeAIPlayer:
		if l.CountType(model.ClientTypeAIPlayer) >= c.cfg.MaxAIPlayers {
			return model.ErrClientTypeDenied
		}
	case model.ClientTypeHumanObserver, model.ClientTypeHumanModerator:
		// Unbounded
	default:
		return model.ErrClientTypeDenied
	}
	return nil
}

// Revalidate recomputes the start lock from the roster invariants and the
// configured participant bounds
func (c *Controller) Revalidate(l *model.LobbyData) {
	l.StartLocked = false
	l.StartLockCause = ""

	humans := l.CountType(model.ClientTypeHumanPlayer)
	ais := l.CountType(model.ClientTypeAIPlayer)

	lock := func(cause string) {
		l.StartLocked = true
		l.StartLockCause = cause
	}

	switch {
	case humans < c.cfg.MinHumanPlayers:
		lock(fmt.Sprintf("need at least %d human players, have %d", c.cfg.MinHumanPlayers, humans))
	case humans > c.cfg.MaxHumanPlayers:
		lock(fmt.Sprintf("at most %d human players allowed, have %d", c.cfg.MaxHumanPlayers, humans))
	case ais < c.cfg.MinAIPlayers:
		lock(fmt.Sprintf("need at least %d AI players, have %d", c.cfg.MinAIPlayers, ais))
	case ais > c.cfg.MaxAIPlayers:
		lock(fmt.Sprintf("at most %d AI players allowed, have %d", c.cfg.MaxAIPlayers, ais))
	case humans+ais == 0:
		lock("no empires configured")
	case !c.distinct(l):
		lock("duplicate player names, empire names or colors")
	}
}

func (c *Controller) distinct(l *model.LobbyData) bool {
	names := make(map[string]bool)
	empires := make(map[string]bool)
	colors := make(map[model.EmpireColor]bool)
	for i := range l.Players {
		row := &l.Players[i]
		if row.PlayerName == "" || names[row.PlayerName] {
			return false
		}
		names[row.PlayerName] = true
		if !row.ClientType.ControlsEmpire() {
			continue
		}
		if row.EmpireName == "" || empires[row.EmpireName] {
			return false
		}
		empires[row.EmpireName] = true
		if colors[row.EmpireColor] {
			return false
		}
		colors[row.EmpireColor] = true
	}
	return true
}

// AllReady reports whether every empire-controlling row is ready
func (c *Controller) AllReady(l *model.LobbyData) bool {
	for i := range l.Players {
		row := &l.Players[i]
		if row.ClientType.ControlsEmpire() && !row.Ready {
			return false
		}
	}
	return true
}

// ApplyClientUpdate merges a client's lobby update into the shared lobby.
// Players may edit their own row; galaxy setup and rules changes require
// edit rights. It reports whether anything important (non-readiness) changed.
func (c *Controller) ApplyClientUpdate(l *model.LobbyData, from model.PlayerID, canEditSetup bool, update *model.LobbyData) bool {
	important := false

	row := l.Row(from)
	if row != nil {
		if incoming := update.Row(from); incoming != nil {
			if row.Ready != incoming.Ready {
				row.Ready = incoming.Ready
			}
			if incoming.EmpireName != "" && incoming.EmpireName != row.EmpireName {
				row.EmpireName = incoming.EmpireName
				important = true
			}
			if incoming.EmpireColor != (model.EmpireColor{}) && incoming.EmpireColor != row.EmpireColor {
				row.EmpireColor = incoming.EmpireColor
				important = true
			}
			if incoming.StartingSpecies != "" && incoming.StartingSpecies != row.StartingSpecies {
				row.StartingSpecies = incoming.StartingSpecies
				important = true
			}
			// Engine empire ids start at 1 and the "no save empire"
			// sentinel is -1, so a zero only comes from an update that
			// omitted the field
			if incoming.SaveGameEmpireID != 0 && incoming.SaveGameEmpireID != row.SaveGameEmpireID {
				row.SaveGameEmpireID = incoming.SaveGameEmpireID
				important = true
			}
		}
	}

	if canEditSetup {
		if c.reconcileAIRows(l, update) {
			important = true
		}
		if update.GalaxySetup != l.GalaxySetup {
			l.GalaxySetup = update.GalaxySetup
			important = true
		}
		if update.SaveGameID != l.SaveGameID {
			l.SaveGameID = update.SaveGameID
			l.NewGame = update.SaveGameID == ""
			important = true
		}
		if len(update.Rules) > 0 {
			for k, v := range update.Rules {
				if l.Rules[k] != v {
					l.Rules[k] = v
					important = true
				}
			}
		}
		if update.AnyCanEdit != l.AnyCanEdit {
			l.AnyCanEdit = update.AnyCanEdit
			important = true
		}
	}

	if important {
		// Any important change revokes readiness so everyone re-confirms
		for i := range l.Players {
			if l.Players[i].ClientType == model.ClientTypeHumanPlayer {
				l.Players[i].Ready = false
			}
		}
	}

	c.Revalidate(l)
	return important
}

// reconcileAIRows applies AI roster additions and removals from an
// edit-rights update. Human and observer rows always follow live sessions
// and are never added or removed here. An update carrying no roster at all
// is a setup-only edit, not a request to clear the AI rows.
func (c *Controller) reconcileAIRows(l *model.LobbyData, update *model.LobbyData) bool {
	if len(update.Players) == 0 {
		return false
	}
	wanted := make(map[string]bool)
	for i := range update.Players {
		if update.Players[i].ClientType == model.ClientTypeAIPlayer {
			wanted[update.Players[i].PlayerName] = true
		}
	}

	changed := false
	kept := l.Players[:0]
	for i := range l.Players {
		row := l.Players[i]
		if row.ClientType == model.ClientTypeAIPlayer && !wanted[row.PlayerName] {
			changed = true
			continue
		}
		kept = append(kept, row)
	}
	l.Players = kept

	existing := make(map[string]bool, len(l.Players))
	for i := range l.Players {
		if l.Players[i].ClientType == model.ClientTypeAIPlayer {
			existing[l.Players[i].PlayerName] = true
		}
	}
	for i := range update.Players {
		in := &update.Players[i]
		if in.ClientType != model.ClientTypeAIPlayer || existing[in.PlayerName] {
			continue
		}
		if c.Admissible(l, model.ClientTypeAIPlayer) != nil {
			continue
		}
		base := in.PlayerName
		if base == "" {
			base = "AI"
		}
		name, err := c.UniquePlayerName(l, base, len(l.Players)+len(update.Players)+1)
		if err != nil {
			continue
		}
		c.AddPlayer(l, model.InvalidPlayerID, name, model.ClientTypeAIPlayer, false)
		changed = true
	}
	return changed
}

// AssignSaveEmpires best-effort matches roster rows to empires from a loaded
// save by stored empire name. Rows with no match stay unassigned; stale ids
// never abort the load.
func (c *Controller) AssignSaveEmpires(l *model.LobbyData, meta *model.SaveGameMetadata) {
	byName := make(map[string]model.EmpireID, len(meta.EmpireNames))
	for i, name := range meta.EmpireNames {
		if i < len(meta.EmpireIDs) {
			byName[name] = meta.EmpireIDs[i]
		}
	}
	for i := range l.Players {
		row := &l.Players[i]
		if !row.ClientType.ControlsEmpire() {
			continue
		}
		if id, ok := byName[row.EmpireName]; ok {
			row.SaveGameEmpireID = id
		} else if row.SaveGameEmpireID != model.NoSaveGameEmpire {
			c.logger.Debug("stale save empire reference, clearing",
				slog.String("player", row.PlayerName),
				slog.Int("empire", int(row.SaveGameEmpireID)))
			row.SaveGameEmpireID = model.NoSaveGameEmpire
		}
	}
}
