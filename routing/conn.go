/*
 * Copyright 2026. DataPlane Author All Rights Reserved.
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package routing

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/opencampus/dataplane/config"
)

// Conn is the routed connection surface. The router owns every Conn it
// dials and closes them on Close and re-initialization.
type Conn interface {
	Execute(ctx context.Context, query string, args ...interface{}) (int64, error)
	FetchOne(ctx context.Context, query string, args ...interface{}) (map[string]interface{}, error)
	FetchAll(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error)
	Close() error
}

// Dialer opens a connection to one endpoint. Swappable for tests.
type Dialer func(cnf config.ConnConfig) (Conn, error)

// DefaultDialer opens a lib/pq backed pool.
func DefaultDialer(cnf config.ConnConfig) (Conn, error) {
	db, err := sql.Open("postgres", cnf.DSN())
	if err != nil {
		return nil, err
	}
	return &sqlConn{db: db}, nil
}

type sqlConn struct {
	db *sql.DB
}

func (c *sqlConn) Execute(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

func (c *sqlConn) FetchOne(ctx context.Context, query string, args ...interface{}) (map[string]interface{}, error) {
	rows, err := c.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (c *sqlConn) FetchAll(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (c *sqlConn) Close() error {
	return c.db.Close()
}
