package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"nutsdispatch/internal/model"
)

const tsLayout = "2006-01-02T15:04:05.000000000Z"

// SQL is the database-backed store. The same schema runs on Postgres (pgx)
// and SQLite (modernc); dates and timestamps are stored as sortable text.
type SQL struct {
	db     *sql.DB
	driver string
}

// Open connects with driver "pgx" or "sqlite" and pings the database.
func Open(ctx context.Context, driver, dsn string) (*SQL, error) {
	switch driver {
	case "pgx", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQL{db: db, driver: driver}, nil
}

func NewPostgres(ctx context.Context, dsn string) (*SQL, error) { return Open(ctx, "pgx", dsn) }

// OpenSQLite opens a database file, creating it when missing.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	return Open(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path))
}

func (s *SQL) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQL) Close() error                   { return s.db.Close() }

// rebind turns ? placeholders into $n for Postgres.
func (s *SQL) rebind(q string) string {
	if s.driver != "pgx" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQL) Works(ctx context.Context, date model.Date) ([]model.Work, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, dossier_id, gipod_id, reference_key, status, start_date, end_date, postcode,
		street, house_number, utility_operator, lat, lng, location_precision, permit_status
		FROM works WHERE start_date <= ? ORDER BY id`), date.String())
	if err != nil {
		return nil, fmt.Errorf("query works: %w", err)
	}
	defer rows.Close()
	out := []model.Work{}
	for rows.Next() {
		var (
			w                                        model.Work
			dossier, gipod, ref, street, house, util sql.NullString
			precision, permit                        sql.NullString
			start, end                               string
			lat, lng                                 sql.NullFloat64
		)
		if err := rows.Scan(&w.ID, &dossier, &gipod, &ref, &w.Status, &start, &end, &w.Postcode,
			&street, &house, &util, &lat, &lng, &precision, &permit); err != nil {
			return nil, err
		}
		if w.StartDate, err = model.ParseDate(start); err != nil {
			return nil, fmt.Errorf("work %s: %w", w.ID, err)
		}
		if w.EndDate, err = model.ParseDate(end); err != nil {
			return nil, fmt.Errorf("work %s: %w", w.ID, err)
		}
		w.DossierID, w.GipodID, w.ReferenceKey = dossier.String, gipod.String, ref.String
		w.Street, w.HouseNumber, w.UtilityOperator = street.String, house.String, util.String
		w.LocationPrecision = model.LocationPrecision(precision.String)
		w.PermitStatus = model.PermitStatus(permit.String)
		if lat.Valid && lng.Valid {
			w.Location = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQL) UpsertWorks(ctx context.Context, works []model.Work) error {
	for _, w := range works {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	q := s.rebind(`INSERT INTO works (id, dossier_id, gipod_id, reference_key, status, start_date, end_date, postcode,
		street, house_number, utility_operator, lat, lng, location_precision, permit_status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET dossier_id = excluded.dossier_id, gipod_id = excluded.gipod_id,
		reference_key = excluded.reference_key, status = excluded.status, start_date = excluded.start_date,
		end_date = excluded.end_date, postcode = excluded.postcode, street = excluded.street,
		house_number = excluded.house_number, utility_operator = excluded.utility_operator, lat = excluded.lat,
		lng = excluded.lng, location_precision = excluded.location_precision, permit_status = excluded.permit_status`)
	for _, w := range works {
		var lat, lng any
		if w.Location != nil {
			lat, lng = w.Location.Lat, w.Location.Lng
		}
		if _, err := tx.ExecContext(ctx, q, w.ID, nullIfEmpty(w.DossierID), nullIfEmpty(w.GipodID), nullIfEmpty(w.ReferenceKey),
			string(w.Status), w.StartDate.String(), w.EndDate.String(), w.Postcode, nullIfEmpty(w.Street),
			nullIfEmpty(w.HouseNumber), nullIfEmpty(w.UtilityOperator), lat, lng,
			nullIfEmpty(string(w.LocationPrecision)), nullIfEmpty(string(w.PermitStatus))); err != nil {
			return fmt.Errorf("upsert work %s: %w", w.ID, err)
		}
	}
	if err := s.dropPlans(ctx, tx, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) Roster(ctx context.Context) ([]model.Inspector, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, initials, name, color, primary_postcodes, backup_postcodes, reserve, active_from, active_until
		FROM inspectors ORDER BY roster_pos`)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()
	out := []model.Inspector{}
	for rows.Next() {
		var (
			in                      model.Inspector
			initials, color         sql.NullString
			from, until             sql.NullString
			primaryJSON, backupJSON string
		)
		if err := rows.Scan(&in.ID, &initials, &in.Name, &color, &primaryJSON, &backupJSON, &in.Reserve, &from, &until); err != nil {
			return nil, err
		}
		in.Initials, in.Color = initials.String, color.String
		if err := json.Unmarshal([]byte(primaryJSON), &in.PrimaryPostcodes); err != nil {
			return nil, fmt.Errorf("inspector %s primary postcodes: %w", in.ID, err)
		}
		if err := json.Unmarshal([]byte(backupJSON), &in.BackupPostcodes); err != nil {
			return nil, fmt.Errorf("inspector %s backup postcodes: %w", in.ID, err)
		}
		if in.ActiveFrom, err = optionalDate(from); err != nil {
			return nil, err
		}
		if in.ActiveUntil, err = optionalDate(until); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// PutRoster replaces the roster; slice order becomes roster order.
func (s *SQL) PutRoster(ctx context.Context, roster []model.Inspector) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM inspectors`); err != nil {
		return err
	}
	q := s.rebind(`INSERT INTO inspectors (id, roster_pos, initials, name, color, primary_postcodes, backup_postcodes, reserve, active_from, active_until)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
	for i, in := range roster {
		primary, _ := json.Marshal(nonNil(in.PrimaryPostcodes))
		backup, _ := json.Marshal(nonNil(in.BackupPostcodes))
		if _, err := tx.ExecContext(ctx, q, in.ID, i, nullIfEmpty(in.Initials), in.Name, nullIfEmpty(in.Color),
			string(primary), string(backup), in.Reserve, dateOrNil(in.ActiveFrom), dateOrNil(in.ActiveUntil)); err != nil {
			return fmt.Errorf("insert inspector %s: %w", in.ID, err)
		}
	}
	if err := s.dropPlans(ctx, tx, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) Availability(ctx context.Context, date model.Date) (model.Availability, error) {
	a := model.Availability{Date: date}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT inspector_id, kind FROM availability WHERE date = ? ORDER BY inspector_id`), date.String())
	if err != nil {
		return a, fmt.Errorf("query availability: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, kind string
		if err := rows.Scan(&id, &kind); err != nil {
			return a, err
		}
		switch kind {
		case "absent":
			a.Absent = append(a.Absent, id)
		case "inactive":
			a.Inactive = append(a.Inactive, id)
		}
	}
	return a, rows.Err()
}

// SetAvailability replaces the exceptions recorded for a.Date.
func (s *SQL) SetAvailability(ctx context.Context, a model.Availability) error {
	if a.Date.IsZero() {
		return &model.InputError{Kind: "availability", Reason: "missing date"}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM availability WHERE date = ?`), a.Date.String()); err != nil {
		return err
	}
	q := s.rebind(`INSERT INTO availability (date, inspector_id, kind) VALUES (?,?,?) ON CONFLICT DO NOTHING`)
	for kind, ids := range map[string][]string{"absent": a.Absent, "inactive": a.Inactive} {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, q, a.Date.String(), id, kind); err != nil {
				return fmt.Errorf("insert availability: %w", err)
			}
		}
	}
	if err := s.dropPlans(ctx, tx, &a.Date); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) ImpactProfiles(ctx context.Context) (map[string]model.ImpactProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT postcode, population_density, vulnerable_share, service_pressure, mobility_sensitivity FROM impact_profiles`)
	if err != nil {
		return nil, fmt.Errorf("query impact profiles: %w", err)
	}
	defer rows.Close()
	out := map[string]model.ImpactProfile{}
	for rows.Next() {
		var p model.ImpactProfile
		if err := rows.Scan(&p.Postcode, &p.PopulationDensity, &p.VulnerableShare, &p.ServicePressure, &p.MobilitySensitivity); err != nil {
			return nil, err
		}
		out[p.Postcode] = p
	}
	return out, rows.Err()
}

func (s *SQL) UpsertImpactProfiles(ctx context.Context, profiles []model.ImpactProfile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	q := s.rebind(`INSERT INTO impact_profiles (postcode, population_density, vulnerable_share, service_pressure, mobility_sensitivity)
		VALUES (?,?,?,?,?)
		ON CONFLICT (postcode) DO UPDATE SET population_density = excluded.population_density,
		vulnerable_share = excluded.vulnerable_share, service_pressure = excluded.service_pressure,
		mobility_sensitivity = excluded.mobility_sensitivity`)
	for _, p := range profiles {
		if _, err := tx.ExecContext(ctx, q, p.Postcode, p.PopulationDensity, p.VulnerableShare, p.ServicePressure, p.MobilitySensitivity); err != nil {
			return fmt.Errorf("upsert impact profile %s: %w", p.Postcode, err)
		}
	}
	if err := s.dropPlans(ctx, tx, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// dropPlans deletes stored plans computed from data that just changed: the
// plan for date, or every plan when date is nil.
func (s *SQL) dropPlans(ctx context.Context, tx *sql.Tx, date *model.Date) error {
	var err error
	if date == nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM plans`)
	} else {
		_, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM plans WHERE date = ?`), date.String())
	}
	if err != nil {
		return fmt.Errorf("drop stale plans: %w", err)
	}
	return nil
}

func (s *SQL) SavePlan(ctx context.Context, plan model.DispatchPlan) error {
	body, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO plans (date, run_id, computed_at, body) VALUES (?,?,?,?)
		ON CONFLICT (date) DO UPDATE SET run_id = excluded.run_id, computed_at = excluded.computed_at, body = excluded.body`),
		plan.Date.String(), plan.RunID, plan.ComputedAt.UTC().Format(tsLayout), string(body))
	if err != nil {
		return fmt.Errorf("save plan %s: %w", plan.Date, err)
	}
	return nil
}

func (s *SQL) GetPlan(ctx context.Context, date model.Date) (model.DispatchPlan, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM plans WHERE date = ?`), date.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DispatchPlan{}, ErrNotFound
	}
	if err != nil {
		return model.DispatchPlan{}, err
	}
	var p model.DispatchPlan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return model.DispatchPlan{}, fmt.Errorf("decode plan %s: %w", date, err)
	}
	return p, nil
}

// Webhook deliveries

func (s *SQL) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	key := computeDedupKey(payload)
	now := time.Now().UTC().Format(tsLayout)
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO webhook_deliveries
		(id, event_type, url, secret, payload, dedup_key, status, attempts, next_attempt_at, created_at)
		VALUES (?,?,?,?,?,?,?,0,?,?) ON CONFLICT (url, dedup_key) DO NOTHING`),
		uuid.New().String(), eventType, url, nullIfEmpty(secret), string(payload), key, DeliveryPending, now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue webhook: %w", err)
	}
	var id string
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM webhook_deliveries WHERE url = ? AND dedup_key = ?`), url, key).Scan(&id)
	return id, err
}

func (s *SQL) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, event_type, url, COALESCE(secret, ''), payload, status, attempts
		FROM webhook_deliveries WHERE status IN (?, ?) AND next_attempt_at <= ?
		ORDER BY next_attempt_at, id LIMIT ?`), DeliveryPending, DeliveryRetry, time.Now().UTC().Format(tsLayout), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		var payload string
		if err := rows.Scan(&d.ID, &d.EventType, &d.URL, &d.Secret, &payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		d.Payload = []byte(payload)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQL) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	var res sql.Result
	var err error
	if success {
		res, err = s.db.ExecContext(ctx, s.rebind(`UPDATE webhook_deliveries SET attempts = attempts + 1, status = ?,
			response_code = ?, latency_ms = ? WHERE id = ?`), DeliveryDelivered, responseCode, latencyMs, id)
	} else {
		next := time.Now().Add(time.Minute)
		if nextAttemptAt != nil {
			next = *nextAttemptAt
		}
		res, err = s.db.ExecContext(ctx, s.rebind(`UPDATE webhook_deliveries SET attempts = attempts + 1, status = ?,
			next_attempt_at = ?, last_error = ?, response_code = ?, latency_ms = ? WHERE id = ?`),
			DeliveryRetry, next.UTC().Format(tsLayout), nullIfEmpty(lastError), responseCode, latencyMs, id)
	}
	return affectedOne(res, err)
}

func (s *SQL) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE webhook_deliveries SET attempts = attempts + 1, status = ?,
		last_error = ?, response_code = ?, latency_ms = ? WHERE id = ?`),
		DeliveryFailed, nullIfEmpty(lastError), responseCode, latencyMs, id)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func dateOrNil(d *model.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func optionalDate(ns sql.NullString) (*model.Date, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	d, err := model.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
