package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) PutTest(ctx context.Context, def TestDefinition, questions []Question) error {
	if def.ID == "" {
		return Validation("exam.put_test", "test id required")
	}
	if def.Kind == "" {
		def.Kind = KindStatic
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO tests (id,title,estimated_minutes,premium,creator_id,kind)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, estimated_minutes=EXCLUDED.estimated_minutes,
		  premium=EXCLUDED.premium, creator_id=EXCLUDED.creator_id, kind=EXCLUDED.kind`,
		def.ID, def.Title, def.EstimatedMinutes, def.Premium, def.CreatorID, string(def.Kind))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE test_id=$1`, def.ID); err != nil {
		return err
	}
	for i, q := range questions {
		oj, err := json.Marshal(q.Options)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO questions (id,test_id,position,prompt,options_json,correct_answer,topic,explanation)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			q.ID, def.ID, i, q.Prompt, string(oj), q.CorrectAnswer, q.Topic, q.Explanation)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) PutInstance(ctx context.Context, inst InstanceSnapshot) error {
	if inst.ID == "" {
		return Validation("exam.put_instance", "instance id required")
	}
	if inst.Status == "" {
		inst.Status = InstancePending
	}
	if inst.CreatedAt == 0 {
		inst.CreatedAt = time.Now().Unix()
	}
	qj, err := json.Marshal(inst.Questions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO test_instances (id,user_id,test_id,questions_json,status,result_id,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO NOTHING`,
		inst.ID, inst.UserID, inst.TestID, string(qj), string(inst.Status), inst.ResultID, inst.CreatedAt)
	return err
}

func (s *SQLStore) PutLiveEvent(ctx context.Context, ev LiveEvent) error {
	if ev.ID == "" {
		return Validation("exam.put_live_event", "event id required")
	}
	qj, err := json.Marshal(ev.Questions)
	if err != nil {
		return err
	}
	d := ev.Definition
	_, err = s.db.ExecContext(ctx, `INSERT INTO live_events (id,title,estimated_minutes,premium,creator_id,questions_json)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, estimated_minutes=EXCLUDED.estimated_minutes,
		  premium=EXCLUDED.premium, creator_id=EXCLUDED.creator_id, questions_json=EXCLUDED.questions_json`,
		ev.ID, d.Title, d.EstimatedMinutes, d.Premium, d.CreatorID, string(qj))
	return err
}

func (s *SQLStore) GetTestDefinition(ctx context.Context, testID string) (TestDefinition, error) {
	var d TestDefinition
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT id,title,estimated_minutes,premium,creator_id,kind,taken_count FROM tests WHERE id=$1`, testID).
		Scan(&d.ID, &d.Title, &d.EstimatedMinutes, &d.Premium, &d.CreatorID, &kind, &d.TakenCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TestDefinition{}, NotFound("exam.get_test", "test not found: "+testID)
		}
		return TestDefinition{}, err
	}
	d.Kind = TestKind(kind)
	return d, nil
}

func (s *SQLStore) GetQuestions(ctx context.Context, testID string) ([]Question, error) {
	if _, err := s.GetTestDefinition(ctx, testID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,prompt,options_json,correct_answer,topic,explanation FROM questions WHERE test_id=$1 ORDER BY position`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Question
	for rows.Next() {
		var q Question
		var oj string
		if err := rows.Scan(&q.ID, &q.Prompt, &oj, &q.CorrectAnswer, &q.Topic, &q.Explanation); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(oj), &q.Options); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetInstanceSnapshot(ctx context.Context, instanceID, userID string) (InstanceSnapshot, error) {
	var inst InstanceSnapshot
	var qj, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id,user_id,test_id,questions_json,status,result_id,created_at FROM test_instances WHERE id=$1`, instanceID).
		Scan(&inst.ID, &inst.UserID, &inst.TestID, &qj, &status, &inst.ResultID, &inst.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InstanceSnapshot{}, NewError(CodeNotYetMaterialized, "exam.get_instance", "instance not found: "+instanceID, nil)
		}
		return InstanceSnapshot{}, err
	}
	if inst.UserID != userID {
		return InstanceSnapshot{}, NewError(CodeAccessDenied, "exam.get_instance", "instance belongs to another user", nil)
	}
	inst.Status = InstanceStatus(status)
	if err := json.Unmarshal([]byte(qj), &inst.Questions); err != nil {
		return InstanceSnapshot{}, err
	}
	return inst, nil
}

func (s *SQLStore) GetLiveEvent(ctx context.Context, eventID string) (LiveEvent, error) {
	var ev LiveEvent
	var qj string
	d := &ev.Definition
	err := s.db.QueryRowContext(ctx,
		`SELECT id,title,estimated_minutes,premium,creator_id,questions_json,taken_count FROM live_events WHERE id=$1`, eventID).
		Scan(&ev.ID, &d.Title, &d.EstimatedMinutes, &d.Premium, &d.CreatorID, &qj, &d.TakenCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LiveEvent{}, NotFound("exam.get_live_event", "live event not found: "+eventID)
		}
		return LiveEvent{}, err
	}
	d.ID = ev.ID
	d.Kind = KindLive
	if err := json.Unmarshal([]byte(qj), &ev.Questions); err != nil {
		return LiveEvent{}, err
	}
	return ev, nil
}
