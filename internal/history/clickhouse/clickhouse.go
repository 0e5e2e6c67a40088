package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/loykin/siswrap/internal/history"
)

// Options configure the ClickHouse connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(o Options) (*Sink, error) {
	if o.Database == "" {
		o.Database = "default"
	}
	if o.Username == "" {
		o.Username = "default"
	}
	if o.Table == "" {
		o.Table = "job_history"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{o.Addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: o.Table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id String,
			occurred_at DateTime64(6),
			event String,
			kind String,
			pid Int64,
			runfolder String,
			host String,
			state String,
			exit_code Nullable(Int32),
			msg String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, id)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, occurred_at, event, kind, pid, runfolder, host, state, exit_code, msg) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	var exit *int32
	if e.Record.ExitCode != nil {
		v := int32(*e.Record.ExitCode) // #nosec G115 -- exit codes are small
		exit = &v
	}
	err := s.conn.Exec(ctx, query,
		e.ID,
		e.OccurredAt,
		string(e.Type),
		string(e.Record.Kind),
		int64(e.Record.PID),
		e.Record.Runfolder,
		e.Record.Host,
		string(e.Record.State),
		exit,
		e.Record.Msg,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
