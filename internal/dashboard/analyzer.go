// Package dashboard aggregates paid orders into the admin sales overview
// and exports them as a spreadsheet.
package dashboard

import (
	"time"

	"github.com/casca-store/storefront/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	// DaysToShow is the length of the daily revenue series.
	DaysToShow = 30

	WeeklyGoal  models.Amount = 50000
	MonthlyGoal models.Amount = 250000
)

type DailyStats struct {
	Date    string        `json:"date"`
	Label   string        `json:"label"`
	Revenue models.Amount `json:"revenue"`
	Orders  int           `json:"orders"`
}

type StatusCount struct {
	Status models.OrderStatus `json:"status"`
	Count  int                `json:"count"`
}

type Summary struct {
	WeeklyRevenue     models.Amount  `json:"weekly_revenue"`
	WeeklyGoal        models.Amount  `json:"weekly_goal"`
	MonthlyRevenue    models.Amount  `json:"monthly_revenue"`
	MonthlyGoal       models.Amount  `json:"monthly_goal"`
	MonthlyOrders     int            `json:"monthly_orders"`
	AverageOrderValue models.Amount  `json:"average_order_value"`
	Daily             []DailyStats   `json:"daily"`
	StatusBreakdown   []StatusCount  `json:"status_breakdown"`
	RecentOrders      []models.Order `json:"recent_orders"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

type Analyzer struct {
	logger *logrus.Logger
}

func NewAnalyzer(logger *logrus.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// WindowStart is UTC midnight of the oldest day in the daily series. The
// monthly totals and the series both cover orders from this instant on.
func WindowStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(DaysToShow - 1))
}

// Summarize builds the overview from paid orders created since
// WindowStart(now). Orders outside that window are ignored, so the daily
// series always adds up to the monthly revenue.
func (a *Analyzer) Summarize(orders []models.Order, now time.Time) *Summary {
	startTime := time.Now()
	now = now.UTC()
	weekAgo := now.AddDate(0, 0, -7)
	start := WindowStart(now)

	summary := &Summary{
		WeeklyGoal:   WeeklyGoal,
		MonthlyGoal:  MonthlyGoal,
		RecentOrders: []models.Order{},
		GeneratedAt:  now,
	}

	byDay := make(map[string]*DailyStats)
	statusCounts := make(map[models.OrderStatus]int)
	for _, order := range orders {
		if !order.IsPaid || order.CreatedAt.Before(start) {
			continue
		}
		created := order.CreatedAt.UTC()

		summary.MonthlyRevenue += order.Amount
		summary.MonthlyOrders++
		statusCounts[order.Status]++

		key := created.Format("2006-01-02")
		day, ok := byDay[key]
		if !ok {
			day = &DailyStats{}
			byDay[key] = day
		}
		day.Revenue += order.Amount
		day.Orders++

		if !created.Before(weekAgo) {
			summary.WeeklyRevenue += order.Amount
			summary.RecentOrders = append(summary.RecentOrders, order)
		}
	}

	if summary.MonthlyOrders > 0 {
		summary.AverageOrderValue = summary.MonthlyRevenue / models.Amount(summary.MonthlyOrders)
	}
	summary.Daily = a.dailySeries(byDay, start)
	for _, status := range models.OrderStatuses() {
		summary.StatusBreakdown = append(summary.StatusBreakdown, StatusCount{
			Status: status,
			Count:  statusCounts[status],
		})
	}

	a.logger.WithFields(logrus.Fields{
		"processing_time": time.Since(startTime),
		"monthly_orders":  summary.MonthlyOrders,
		"monthly_revenue": summary.MonthlyRevenue,
	}).Debug("Dashboard summary computed")
	return summary
}

// dailySeries returns one entry per day, oldest first, beginning at start.
// Days without orders are present with zero values.
func (a *Analyzer) dailySeries(byDay map[string]*DailyStats, start time.Time) []DailyStats {
	series := make([]DailyStats, 0, DaysToShow)
	for i := 0; i < DaysToShow; i++ {
		date := start.AddDate(0, 0, i)
		key := date.Format("2006-01-02")
		entry := DailyStats{Date: key, Label: date.Format("Jan 2")}
		if stats, ok := byDay[key]; ok {
			entry.Revenue = stats.Revenue
			entry.Orders = stats.Orders
		}
		series = append(series, entry)
	}
	return series
}
