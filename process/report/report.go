// Package report builds the monthly income/expense summary printed by cmd_report.
package report

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"ponpay/pkg/rupiah"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CategoryTotal is the sum of one type/category pair.
type CategoryTotal struct {
	Type     string
	Category string
	Total    int64
	Count    int64
}

// Row is one transaction listed under the summary.
type Row struct {
	ID          int64
	Date        time.Time
	Type        string
	Category    string
	Amount      int64
	Description string
	Student     string
}

// Summary is the report of one user for one month.
type Summary struct {
	Username   string
	Month      string
	Categories []CategoryTotal
	Income     int64
	Expense    int64
	Count      int64
	Rows       []Row
}

// Net is income minus expense.
func (s *Summary) Net() int64 { return s.Income - s.Expense }

// MonthBounds parses YYYY-MM into [start, end) in UTC.
func MonthBounds(month string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid month format, expected YYYY-MM: %w", err)
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

const totalsSQL = `
SELECT t.type, t.category, COALESCE(SUM(t.amount), 0)::bigint, COUNT(*)
FROM transactions t JOIN users u ON u.id = t.user_id
WHERE u.username = $1 AND t.date >= $2 AND t.date < $3
GROUP BY t.type, t.category
ORDER BY t.type, t.category`

const rowsSQL = `
SELECT t.id, t.date, t.type, t.category, t.amount, COALESCE(t.description, ''), COALESCE(s.name, '')
FROM transactions t
JOIN users u ON u.id = t.user_id
LEFT JOIN students s ON s.id = t.student_id
WHERE u.username = $1 AND t.date >= $2 AND t.date < $3
ORDER BY t.date, t.id`

// Monthly loads the summary of username for month. With list set the matching transactions
// are loaded as well.
func Monthly(ctx context.Context, pool *pgxpool.Pool, username, month string, list bool) (*Summary, error) {
	start, end, err := MonthBounds(month)
	if err != nil {
		return nil, err
	}
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists); err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("user %q not found", username)
	}

	rows, err := pool.Query(ctx, totalsSQL, username, start, end)
	if err != nil {
		return nil, fmt.Errorf("query totals: %w", err)
	}
	cats, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (CategoryTotal, error) {
		var c CategoryTotal
		err := r.Scan(&c.Type, &c.Category, &c.Total, &c.Count)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan totals: %w", err)
	}
	s := &Summary{Username: username, Month: month}
	s.add(cats)

	if list {
		rows, err := pool.Query(ctx, rowsSQL, username, start, end)
		if err != nil {
			return nil, fmt.Errorf("query rows: %w", err)
		}
		s.Rows, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (Row, error) {
			var x Row
			err := r.Scan(&x.ID, &x.Date, &x.Type, &x.Category, &x.Amount, &x.Description, &x.Student)
			return x, err
		})
		if err != nil {
			return nil, fmt.Errorf("scan rows: %w", err)
		}
	}
	return s, nil
}

func (s *Summary) add(cats []CategoryTotal) {
	s.Categories = cats
	for _, c := range cats {
		s.Count += c.Count
		if c.Type == "expense" {
			s.Expense += c.Total
		} else {
			s.Income += c.Total
		}
	}
}

// Print writes the summary as aligned text.
func (s *Summary) Print(w io.Writer) error {
	fmt.Fprintf(w, "Report for user=%s month=%s (UTC):\n", s.Username, s.Month)
	fmt.Fprintf(w, "  records=%d income=%s expense=%s net=%s\n",
		s.Count, rupiah.Format(s.Income), rupiah.Format(s.Expense), rupiah.Format(s.Net()))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range s.Categories {
		fmt.Fprintf(tw, "  %s\t%s\t%d\t%s\n", c.Type, c.Category, c.Count, rupiah.Format(c.Total))
	}
	if len(s.Rows) > 0 {
		fmt.Fprintln(tw, "")
		for _, r := range s.Rows {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Date.Format("2006-01-02"), r.Type, r.Category,
				rupiah.Format(r.Amount), r.Student, r.Description)
		}
	}
	return tw.Flush()
}
