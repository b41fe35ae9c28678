package state

import (
	"database/sql"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilnet/veil/internal/model"
)

// Repo wraps the state database and provides transactional CRUD.
// All writes are serialized by an internal mutex; combined with the
// single-connection SQLite pool this gives read-modify-write atomicity
// without lost updates.
type Repo struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRepo creates a Repo for the given state database connection.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// HealthPolicy parameterizes probe-result scoring and deactivation.
// Values come from RuntimeConfig; they are configuration, not constants.
type HealthPolicy struct {
	Alpha                  float64 // EMA weight of the newest observation
	DeactivationThreshold  int     // deactivate below this score ...
	MinConsecutiveFailures int     // ... after at least this many straight failures
}

const (
	minHealthScore = 0
	maxHealthScore = 100
)

// --- sni_domains ---

const domainColumns = `id, domain, tier, health_score, consecutive_failures,
	last_check_ns, last_latency_ns, country, is_active, notes, created_at_ns, updated_at_ns`

func scanDomain(row interface{ Scan(...any) error }) (model.SniDomain, error) {
	var d model.SniDomain
	err := row.Scan(&d.ID, &d.Domain, &d.Tier, &d.HealthScore, &d.ConsecutiveFailures,
		&d.LastCheckNs, &d.LastLatencyNs, &d.Country, &d.IsActive, &d.Notes,
		&d.CreatedAtNs, &d.UpdatedAtNs)
	return d, err
}

// CreateDomain registers a new camouflage domain. The hostname must already
// be normalized by the caller. Returns ErrDuplicateDomain when the hostname
// is taken.
func (r *Repo) CreateDomain(domain string, tier int, healthScore int, notes string, nowNs int64) (model.SniDomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var exists int
	err := r.db.QueryRow("SELECT COUNT(*) FROM sni_domains WHERE domain = ?", domain).Scan(&exists)
	if err != nil {
		return model.SniDomain{}, fmt.Errorf("check domain %q: %w", domain, err)
	}
	if exists > 0 {
		return model.SniDomain{}, ErrDuplicateDomain
	}

	d := model.SniDomain{
		ID:          uuid.NewString(),
		Domain:      domain,
		Tier:        tier,
		HealthScore: clampScore(healthScore),
		IsActive:    true,
		Notes:       notes,
		CreatedAtNs: nowNs,
		UpdatedAtNs: nowNs,
	}
	_, err = r.db.Exec(`
		INSERT INTO sni_domains (id, domain, tier, health_score, consecutive_failures,
		                         last_check_ns, last_latency_ns, country, is_active, notes,
		                         created_at_ns, updated_at_ns)
		VALUES (?, ?, ?, ?, 0, 0, 0, '', 1, ?, ?, ?)
	`, d.ID, d.Domain, d.Tier, d.HealthScore, d.Notes, d.CreatedAtNs, d.UpdatedAtNs)
	if err != nil {
		return model.SniDomain{}, fmt.Errorf("insert domain %q: %w", domain, err)
	}
	return d, nil
}

// GetDomain returns a domain by ID, or ErrDomainNotFound.
func (r *Repo) GetDomain(id string) (model.SniDomain, error) {
	row := r.db.QueryRow("SELECT "+domainColumns+" FROM sni_domains WHERE id = ?", id)
	d, err := scanDomain(row)
	if err == sql.ErrNoRows {
		return model.SniDomain{}, ErrDomainNotFound
	}
	if err != nil {
		return model.SniDomain{}, fmt.Errorf("scan domain %s: %w", id, err)
	}
	return d, nil
}

// ListDomains returns all domains ordered by tier then hostname.
func (r *Repo) ListDomains() ([]model.SniDomain, error) {
	rows, err := r.db.Query("SELECT " + domainColumns + " FROM sni_domains ORDER BY tier ASC, domain ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.SniDomain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// ListEligibleDomains returns active domains with tier <= tierCeiling,
// ordered by selection priority: tier ascending, health score descending,
// then oldest (or never) probed first. This ordering is the assignment
// priority and doubles as the tie-break rule.
func (r *Repo) ListEligibleDomains(tierCeiling int) ([]model.SniDomain, error) {
	rows, err := r.db.Query(`
		SELECT `+domainColumns+` FROM sni_domains
		WHERE is_active = 1 AND tier <= ?
		ORDER BY tier ASC, health_score DESC, last_check_ns ASC
	`, tierCeiling)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.SniDomain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// UpdateDomain patches tier, active flag, and notes.
func (r *Repo) UpdateDomain(id string, tier *int, isActive *bool, notes *string, nowNs int64) (model.SniDomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.GetDomain(id)
	if err != nil {
		return model.SniDomain{}, err
	}
	if tier != nil {
		d.Tier = *tier
	}
	if isActive != nil {
		d.IsActive = *isActive
		if *isActive {
			// Operator re-activation clears the failure streak.
			d.ConsecutiveFailures = 0
		}
	}
	if notes != nil {
		d.Notes = *notes
	}
	d.UpdatedAtNs = nowNs

	_, err = r.db.Exec(`
		UPDATE sni_domains
		SET tier = ?, is_active = ?, notes = ?, consecutive_failures = ?, updated_at_ns = ?
		WHERE id = ?
	`, d.Tier, d.IsActive, d.Notes, d.ConsecutiveFailures, d.UpdatedAtNs, d.ID)
	if err != nil {
		return model.SniDomain{}, fmt.Errorf("update domain %s: %w", id, err)
	}
	return d, nil
}

// DeleteDomain removes a domain by ID.
func (r *Repo) DeleteDomain(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec("DELETE FROM sni_domains WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete domain %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDomainNotFound
	}
	return nil
}

// SetDomainCountry records the GeoIP annotation from the latest probe.
func (r *Repo) SetDomainCountry(id, country string, nowNs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec("UPDATE sni_domains SET country = ?, updated_at_ns = ? WHERE id = ?",
		country, nowNs, id)
	return err
}

// RecordProbeResult folds one probe outcome into the domain's health score
// using an exponential moving average toward 100 (success) or 0 (failure),
// clamped to [0,100]. A failed probe extends the consecutive-failure streak;
// once the score sinks below the policy threshold with enough straight
// failures the domain is deactivated. Returns the updated row and whether
// this call deactivated it.
func (r *Repo) RecordProbeResult(id string, success bool, latency time.Duration, policy HealthPolicy, now time.Time) (model.SniDomain, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, err := r.GetDomain(id)
	if err != nil {
		return model.SniDomain{}, false, err
	}

	target := 0.0
	if success {
		target = 100.0
	}
	alpha := policy.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	d.HealthScore = clampScore(int(math.Round((1-alpha)*float64(d.HealthScore) + alpha*target)))
	d.LastCheckNs = now.UnixNano()
	if success {
		d.ConsecutiveFailures = 0
		d.LastLatencyNs = latency.Nanoseconds()
	} else {
		d.ConsecutiveFailures++
	}

	deactivated := false
	if !success && d.IsActive &&
		d.HealthScore < policy.DeactivationThreshold &&
		d.ConsecutiveFailures >= policy.MinConsecutiveFailures {
		d.IsActive = false
		deactivated = true
	}
	d.UpdatedAtNs = now.UnixNano()

	_, err = r.db.Exec(`
		UPDATE sni_domains
		SET health_score = ?, consecutive_failures = ?, last_check_ns = ?,
		    last_latency_ns = ?, is_active = ?, updated_at_ns = ?
		WHERE id = ?
	`, d.HealthScore, d.ConsecutiveFailures, d.LastCheckNs,
		d.LastLatencyNs, d.IsActive, d.UpdatedAtNs, d.ID)
	if err != nil {
		return model.SniDomain{}, false, fmt.Errorf("record probe for domain %s: %w", id, err)
	}
	return d, deactivated, nil
}

func clampScore(score int) int {
	if score < minHealthScore {
		return minHealthScore
	}
	if score > maxHealthScore {
		return maxHealthScore
	}
	return score
}
