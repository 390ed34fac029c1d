// 包 store: 提供与 PostgreSQL 的数据访问层，包含识别事件记录与统计读写
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"fpagent/internal/logger"
)

// Store: 数据库访问入口，持有连接池并提供事件/统计接口
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open: 使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	return &Store{db: db}, nil
}

// Close: 关闭数据库连接
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Event: 一次成功识别的记录
type Event struct {
	RequestID   string          `json:"requestId"`
	VisitorID   string          `json:"visitorId"`
	Token       string          `json:"-"`
	Shape       string          `json:"shape"`
	IP          string          `json:"ip"`
	LinkedID    string          `json:"linkedId,omitempty"`
	Tag         json.RawMessage `json:"tag,omitempty"`
	Confidence  float64         `json:"confidence"`
	Found       bool            `json:"visitorFound"`
	Incognito   bool            `json:"incognito"`
	BrowserName string          `json:"browserName,omitempty"`
	OS          string          `json:"os,omitempty"`
	CreatedAt   time.Time       `json:"timestamp"`
}

// RecordEvent: 写入一条识别事件；request_id 冲突时忽略
func (s *Store) RecordEvent(ctx context.Context, e Event) error {
	if e.RequestID == "" {
		return errors.New("store: empty request id")
	}
	var tag any
	if len(e.Tag) > 0 {
		tag = string(e.Tag)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO _fp_events(request_id, visitor_id, token, shape, ip, linked_id, tag, confidence, visitor_found, incognito, browser_name, os)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        ON CONFLICT (request_id) DO NOTHING`,
		e.RequestID, e.VisitorID, e.Token, e.Shape, e.IP, e.LinkedID, tag, e.Confidence, e.Found, e.Incognito, e.BrowserName, e.OS,
	)
	if err != nil {
		return err
	}
	logger.L().Debug("db_event_recorded", "request_id", e.RequestID, "visitor_id", e.VisitorID)
	return nil
}

// VisitorEvents: 按时间倒序返回访客最近的识别事件
func (s *Store) VisitorEvents(ctx context.Context, visitorID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT request_id, visitor_id, shape, ip, linked_id, COALESCE(tag::text, ''), confidence, visitor_found, incognito, browser_name, os, created_at
        FROM _fp_events WHERE visitor_id=$1 ORDER BY created_at DESC LIMIT $2`, visitorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var tag string
		if err := rows.Scan(&e.RequestID, &e.VisitorID, &e.Shape, &e.IP, &e.LinkedID, &tag, &e.Confidence, &e.Found, &e.Incognito, &e.BrowserName, &e.OS, &e.CreatedAt); err != nil {
			return nil, err
		}
		if tag != "" {
			e.Tag = json.RawMessage(tag)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// IncrStats: 成功识别后递增总计与当日计数；新访客时递增访客计数
func (s *Store) IncrStats(ctx context.Context, newVisitor bool) error {
	_, _ = s.db.ExecContext(ctx, "UPDATE _fp_stats_total SET total_requests=total_requests+1 WHERE id=1")
	_, _ = s.db.ExecContext(ctx, "INSERT INTO _fp_stats_daily(day, requests) VALUES(current_date, 1) ON CONFLICT (day) DO UPDATE SET requests=_fp_stats_daily.requests+1")
	if newVisitor {
		_, _ = s.db.ExecContext(ctx, "UPDATE _fp_stats_total SET total_visitors=total_visitors+1 WHERE id=1")
		_, _ = s.db.ExecContext(ctx, "INSERT INTO _fp_stats_daily(day, visitors) VALUES(current_date, 1) ON CONFLICT (day) DO UPDATE SET visitors=_fp_stats_daily.visitors+1")
	}
	logger.L().Debug("stats_incr", "new_visitor", newVisitor)
	return nil
}

// Totals: 统计返回结构，包含累计与当日识别次数、访客数
type Totals struct {
	Total         int64 `json:"total"`
	Today         int64 `json:"today"`
	Visitors      int64 `json:"visitors"`
	VisitorsToday int64 `json:"visitorsToday"`
}

// GetTotals: 读取累计与当日统计；当日尚无记录时为 0
func (s *Store) GetTotals(ctx context.Context) (*Totals, error) {
	var t Totals
	row := s.db.QueryRowContext(ctx, "SELECT total_requests, total_visitors FROM _fp_stats_total WHERE id=1")
	if err := row.Scan(&t.Total, &t.Visitors); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	row2 := s.db.QueryRowContext(ctx, "SELECT requests, visitors FROM _fp_stats_daily WHERE day=current_date")
	if err := row2.Scan(&t.Today, &t.VisitorsToday); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	logger.L().Debug("stats_totals", "total", t.Total, "today", t.Today)
	return &t, nil
}
