// Package providers keeps the registry of constructed provider adapters
// and their persisted enabled/disabled flags.
package providers

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/moneta/internal/database"
	"github.com/aristath/moneta/internal/domain"
)

// Status is one registered provider with its persisted flag.
type Status struct {
	Name      string `json:"name"`
	IsEnabled bool   `json:"is_enabled"`
}

// Registry holds the adapters constructed at startup. Adapters register
// once; enabling and disabling is a persisted flag, not re-construction.
type Registry struct {
	q        database.Querier
	adapters map[string]domain.Provider
	order    []string
	log      zerolog.Logger
}

// NewRegistry creates an empty provider registry
func NewRegistry(q database.Querier, log zerolog.Logger) *Registry {
	return &Registry{
		q:        q,
		adapters: make(map[string]domain.Provider),
		log:      log.With().Str("component", "providers").Logger(),
	}
}

// Register adds an adapter and ensures its flag row exists. Registration
// order is the sync order.
func (r *Registry) Register(p domain.Provider) error {
	name := p.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}
	_, err := r.q.Exec(`INSERT INTO providers (name, is_enabled) VALUES (?, 1)
		ON CONFLICT(name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("failed to persist provider %s: %w", name, err)
	}
	r.adapters[name] = p
	r.order = append(r.order, name)
	r.log.Info().Str("provider", name).Msg("Provider registered")
	return nil
}

// Enabled returns the enabled adapters in registration order.
func (r *Registry) Enabled() ([]domain.Provider, error) {
	flags, err := r.flags()
	if err != nil {
		return nil, err
	}

	var enabled []domain.Provider
	for _, name := range r.order {
		if on, ok := flags[name]; !ok || on {
			enabled = append(enabled, r.adapters[name])
		}
	}
	return enabled, nil
}

// List returns every registered provider with its flag, sorted by name.
func (r *Registry) List() ([]Status, error) {
	flags, err := r.flags()
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(r.adapters))
	for name := range r.adapters {
		on, ok := flags[name]
		statuses = append(statuses, Status{Name: name, IsEnabled: !ok || on})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses, nil
}

// SetEnabled flips a provider's persisted flag
func (r *Registry) SetEnabled(name string, enabled bool) error {
	if _, ok := r.adapters[name]; !ok {
		return fmt.Errorf("provider %s not registered", name)
	}
	flag := 0
	if enabled {
		flag = 1
	}
	_, err := r.q.Exec(`UPDATE providers SET is_enabled = ? WHERE name = ?`, flag, name)
	if err != nil {
		return fmt.Errorf("failed to update provider %s: %w", name, err)
	}
	return nil
}

func (r *Registry) flags() (map[string]bool, error) {
	rows, err := r.q.Query(`SELECT name, is_enabled FROM providers`)
	if err != nil {
		return nil, fmt.Errorf("failed to query provider flags: %w", err)
	}
	defer rows.Close()

	flags := make(map[string]bool)
	for rows.Next() {
		var name string
		var enabled int
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan provider flag: %w", err)
		}
		flags[name] = enabled != 0
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provider flags: %w", err)
	}
	return flags, nil
}
