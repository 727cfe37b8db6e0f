package main

import (
	"net/http"
	"strconv"
	"time"

	"ponpay/models"
	"ponpay/pkg/audit"

	"github.com/gin-gonic/gin"
)

type monthTotal struct {
	Month   string `json:"month"`
	Income  int64  `json:"income"`
	Expense int64  `json:"expense"`
}

// monthlySeries buckets the user's transactions of the last n months (current month included)
// into income and expense totals, oldest month first.
func monthlySeries(c *gin.Context, userID uint, now time.Time, n int) ([]monthTotal, error) {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(n - 1), 0)
	var rows []models.Transaction
	err := reqDB(c).Select("type", "amount", "date").
		Where("user_id = ? AND date >= ?", userID, first).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	series := make([]monthTotal, n)
	index := make(map[string]int, n)
	for i := range series {
		m := first.AddDate(0, i, 0).Format("2006-01")
		series[i].Month = m
		index[m] = i
	}
	for _, t := range rows {
		i, ok := index[t.Date.Format("2006-01")]
		if !ok {
			continue
		}
		if t.Type == models.TypeIncome {
			series[i].Income += t.Amount
		} else {
			series[i].Expense += t.Amount
		}
	}
	return series, nil
}

func dashboardHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	now := time.Now().In(cfg.Location())
	series, err := monthlySeries(c, user.ID, now, 12)
	if err != nil {
		respondError(c, err)
		return
	}
	current := series[len(series)-1]

	var count int64
	start, end, _ := monthRange(now.Format("2006-01"))
	if err := reqDB(c).Model(&models.Transaction{}).
		Where("user_id = ? AND date >= ? AND date < ?", user.ID, start, end).
		Count(&count).Error; err != nil {
		respondError(c, err)
		return
	}
	balance, err := ledgerSvc.Balance(reqCtx(c), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	var recent []models.Transaction
	if err := reqDB(c).Preload("Student").Where("user_id = ?", user.ID).
		Order("date desc, id desc").Limit(5).Find(&recent).Error; err != nil {
		respondError(c, err)
		return
	}
	var students, unpaid int64
	reqDB(c).Model(&models.Student{}).Where("status = ?", models.StudentActive).Count(&students)
	reqDB(c).Model(&models.Bill{}).Where("status = ?", models.BillUnpaid).Count(&unpaid)

	c.JSON(http.StatusOK, gin.H{
		"month":           current.Month,
		"income":          current.Income,
		"expense":         current.Expense,
		"count":           count,
		"balance":         balance,
		"recent":          recent,
		"monthly":         series,
		"active_students": students,
		"unpaid_bills":    unpaid,
	})
}

func walletHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	if err := ledgerSvc.EnsureWallet(reqCtx(c), user.ID); err != nil {
		respondError(c, err)
		return
	}
	var w models.Wallet
	if err := reqDB(c).Where("user_id = ?", user.ID).Take(&w).Error; err != nil {
		respondError(c, err)
		return
	}
	var recent []models.Transaction
	if err := reqDB(c).Preload("Student").Where("user_id = ?", user.ID).
		Order("date desc, id desc").Limit(20).Find(&recent).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":         w.Balance,
		"opening_balance": w.OpeningBalance,
		"updated_at":      w.UpdatedAt,
		"transactions":    recent,
	})
}

type categoryTotal struct {
	Type     string `json:"type"`
	Category string `json:"category"`
	Total    int64  `json:"total"`
	Count    int64  `json:"count"`
}

type kelasUnpaid struct {
	Kelas string `json:"kelas"`
	Count int64  `json:"count"`
	Total int64  `json:"total"`
}

// statisticsHandler reports category totals over the last period months and unpaid bills per kelas.
func statisticsHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	period, _ := strconv.Atoi(c.DefaultQuery("period", "1"))
	switch period {
	case 1, 3, 6, 12:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "period harus 1, 3, 6, atau 12"})
		return
	}
	now := time.Now().In(cfg.Location())
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(period - 1), 0)

	var cats []categoryTotal
	if err := reqDB(c).Model(&models.Transaction{}).
		Select("type, category, SUM(amount) AS total, COUNT(*) AS count").
		Where("user_id = ? AND date >= ?", user.ID, from).
		Group("type, category").
		Order("total desc").
		Scan(&cats).Error; err != nil {
		respondError(c, err)
		return
	}
	income := []categoryTotal{}
	expense := []categoryTotal{}
	for _, ct := range cats {
		if ct.Type == models.TypeIncome {
			income = append(income, ct)
		} else {
			expense = append(expense, ct)
		}
	}

	var kelas []kelasUnpaid
	if err := reqDB(c).Table("bills").
		Select("students.kelas AS kelas, COUNT(bills.id) AS count, SUM(bills.amount) AS total").
		Joins("JOIN students ON students.id = bills.student_id").
		Where("bills.status = ?", models.BillUnpaid).
		Group("students.kelas").
		Order("students.kelas").
		Scan(&kelas).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"period":       period,
		"from":         from.Format("2006-01-02"),
		"income":       income,
		"expense":      expense,
		"unpaid_kelas": kelas,
	})
}

func listHistoryHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	items, err := history.List(reqCtx(c), limit, c.Query("target_type"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func deleteHistoryHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := history.Delete(reqCtx(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Riwayat berhasil dihapus"})
}

// reconcileHandler reports stored against expected balances: one user with ?user_id, all otherwise.
func reconcileHandler(c *gin.Context) {
	if uid := queryUint(c, "user_id"); uid != 0 {
		r, err := ledgerSvc.Reconcile(reqCtx(c), uid)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, r)
		return
	}
	reports, err := ledgerSvc.ReconcileAll(reqCtx(c))
	if err != nil {
		respondError(c, err)
		return
	}
	drifted := 0
	for _, r := range reports {
		if !r.InSync() {
			drifted++
		}
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "drifted": drifted})
}

// repairHandler corrects the wallet of user_id (default: the caller) to its expected balance.
func repairHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	var req struct {
		UserID uint `json:"user_id"`
	}
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if req.UserID == 0 {
		req.UserID = user.ID
	}
	r, err := ledgerSvc.Repair(reqCtx(c), req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if r.Repaired {
		history.Record(reqCtx(c), user.ID, audit.ActionRepair, audit.TargetWallet, req.UserID, r)
	}
	c.JSON(http.StatusOK, r)
}
