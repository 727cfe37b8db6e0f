package main

import (
	"net/http"
	"time"

	"ponpay/models"
	"ponpay/pkg/audit"
	"ponpay/pkg/ledger"
	"ponpay/pkg/validation"

	"github.com/gin-gonic/gin"
)

type transactionRequest struct {
	Type        string `json:"type"`
	Category    string `json:"category"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Date        string `json:"date"`
	StudentID   *uint  `json:"student_id"`
}

func (r transactionRequest) entry() (ledger.Entry, error) {
	d, err := validation.Transaction(validation.TransactionInput{
		Type:        r.Type,
		Category:    r.Category,
		Amount:      r.Amount,
		Description: r.Description,
		Date:        r.Date,
		StudentID:   r.StudentID,
	}, time.Now().In(cfg.Location()))
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		StudentID:   d.StudentID,
		Type:        d.Type,
		Category:    d.Category,
		Amount:      d.Amount,
		Description: d.Description,
		Date:        d.Date,
	}, nil
}

func transactionMeta(t models.Transaction) map[string]interface{} {
	m := map[string]interface{}{
		"type":        t.Type,
		"category":    t.Category,
		"amount":      t.Amount,
		"description": t.Description,
		"date":        t.Date.Format("2006-01-02"),
	}
	if t.StudentID != nil {
		m["student_id"] = *t.StudentID
	}
	return m
}

// monthRange parses YYYY-MM into [first day, first day of next month).
func monthRange(month string) (time.Time, time.Time, bool) {
	start, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return start, start.AddDate(0, 1, 0), true
}

// listTransactionsHandler lists the current user's transactions, newest first, with the
// categories in use for the filter drop-down.
func listTransactionsHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	q := reqDB(c).Model(&models.Transaction{}).Preload("Student").Where("user_id = ?", user.ID)
	if t := c.Query("type"); t != "" {
		q = q.Where("type = ?", t)
	}
	if cat := c.Query("category"); cat != "" {
		q = q.Where("category = ?", cat)
	}
	if m := c.Query("month"); m != "" {
		start, end, ok := monthRange(m)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "month harus dalam format YYYY-MM"})
			return
		}
		q = q.Where("date >= ? AND date < ?", start, end)
	}
	if sid := queryUint(c, "student_id"); sid != 0 {
		q = q.Where("student_id = ?", sid)
	}
	var items []models.Transaction
	if err := q.Order("date desc, id desc").Find(&items).Error; err != nil {
		respondError(c, err)
		return
	}
	var categories []string
	if err := reqDB(c).Model(&models.Transaction{}).Where("user_id = ?", user.ID).
		Distinct("category").Order("category").Pluck("category", &categories).Error; err != nil {
		respondError(c, err)
		return
	}
	var income, expense int64
	for _, t := range items {
		if t.Type == models.TypeIncome {
			income += t.Amount
		} else {
			expense += t.Amount
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions":  items,
		"categories":    categories,
		"total_income":  income,
		"total_expense": expense,
	})
}

func getTransactionHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)
	var t models.Transaction
	if err := reqDB(c).Preload("Student").Where("id = ? AND user_id = ?", id, user.ID).First(&t).Error; err != nil {
		respondError(c, ledger.ErrTransactionNotFound)
		return
	}
	c.JSON(http.StatusOK, t)
}

func createTransactionHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	var req transactionRequest
	if !bindJSON(c, &req) {
		return
	}
	e, err := req.entry()
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := ledgerSvc.CreateTransaction(reqCtx(c), user.ID, e)
	if err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionCreate, audit.TargetTransaction, res.Transaction.ID, transactionMeta(res.Transaction))
	c.JSON(http.StatusCreated, gin.H{
		"message":     "Transaksi berhasil ditambahkan",
		"transaction": res.Transaction,
		"balance":     res.Balance,
	})
}

func updateTransactionHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)
	var req transactionRequest
	if !bindJSON(c, &req) {
		return
	}
	e, err := req.entry()
	if err != nil {
		respondError(c, err)
		return
	}
	var before models.Transaction
	if err := reqDB(c).Where("id = ? AND user_id = ?", id, user.ID).First(&before).Error; err != nil {
		respondError(c, ledger.ErrTransactionNotFound)
		return
	}
	res, err := ledgerSvc.EditTransaction(reqCtx(c), user.ID, id, e)
	if err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionUpdate, audit.TargetTransaction, id,
		audit.Diff(transactionMeta(before), transactionMeta(res.Transaction)))
	c.JSON(http.StatusOK, gin.H{
		"message":     "Transaksi berhasil diperbarui",
		"transaction": res.Transaction,
		"balance":     res.Balance,
	})
}

func deleteTransactionHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)
	res, err := ledgerSvc.DeleteTransaction(reqCtx(c), user.ID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionDelete, audit.TargetTransaction, id, transactionMeta(res.Transaction))
	c.JSON(http.StatusOK, gin.H{"message": "Transaksi berhasil dihapus", "balance": res.Balance})
}
