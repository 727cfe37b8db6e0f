package main

import (
	"net/http"
	"strings"
	"time"

	"ponpay/models"
	"ponpay/pkg/audit"
	"ponpay/pkg/ledger"
	"ponpay/pkg/validation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type studentRequest struct {
	Name         string `json:"name"`
	NISN         string `json:"nisn"`
	Kelas        string `json:"kelas"`
	JenisKelamin string `json:"jenis_kelamin"`
	Phone        string `json:"phone"`
	ParentName   string `json:"parent_name"`
	ParentPhone  string `json:"parent_phone"`
	Alamat       string `json:"alamat"`
	Status       string `json:"status"`
}

func (r studentRequest) student() (models.Student, error) {
	in, err := validation.Student(validation.StudentInput{
		Name:         r.Name,
		NISN:         r.NISN,
		Kelas:        r.Kelas,
		JenisKelamin: r.JenisKelamin,
		Phone:        r.Phone,
		ParentName:   r.ParentName,
		ParentPhone:  r.ParentPhone,
		Alamat:       r.Alamat,
	})
	if err != nil {
		return models.Student{}, err
	}
	status, err := validation.StudentStatus(r.Status)
	if err != nil {
		return models.Student{}, err
	}
	return models.Student{
		Name:         in.Name,
		NISN:         in.NISN,
		Kelas:        in.Kelas,
		JenisKelamin: in.JenisKelamin,
		Phone:        in.Phone,
		ParentName:   in.ParentName,
		ParentPhone:  in.ParentPhone,
		Alamat:       in.Alamat,
		Status:       status,
	}, nil
}

func studentFields(s models.Student) map[string]interface{} {
	return map[string]interface{}{
		"name":          s.Name,
		"nisn":          s.NISN,
		"kelas":         s.Kelas,
		"jenis_kelamin": s.JenisKelamin,
		"phone":         s.Phone,
		"parent_name":   s.ParentName,
		"parent_phone":  s.ParentPhone,
		"alamat":        s.Alamat,
		"status":        s.Status,
	}
}

// paymentStats summarizes the income recorded for one student.
type paymentStats struct {
	TotalPayment int64      `json:"total_payment"`
	MonthPayment int64      `json:"month_payment"`
	PaymentCount int64      `json:"payment_count"`
	LastPayment  *time.Time `json:"last_payment"`
}

// studentPaymentStats aggregates income transactions per student. Totals are summed in Go so the
// same code runs on postgres and sqlite.
func studentPaymentStats(g *gorm.DB, ids []uint, now time.Time) (map[uint]*paymentStats, error) {
	out := make(map[uint]*paymentStats, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Transaction
	err := g.Select("student_id", "amount", "date").
		Where("student_id IN ? AND type = ?", ids, models.TypeIncome).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, t := range rows {
		st, ok := out[*t.StudentID]
		if !ok {
			st = &paymentStats{}
			out[*t.StudentID] = st
		}
		st.TotalPayment += t.Amount
		st.PaymentCount++
		if t.Date.Year() == now.Year() && t.Date.Month() == now.Month() {
			st.MonthPayment += t.Amount
		}
		if st.LastPayment == nil || t.Date.After(*st.LastPayment) {
			d := t.Date
			st.LastPayment = &d
		}
	}
	return out, nil
}

type studentRow struct {
	models.Student
	paymentStats
}

func listStudentsHandler(c *gin.Context) {
	q := reqDB(c).Model(&models.Student{})
	if s := strings.TrimSpace(c.Query("q")); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("LOWER(name) LIKE ? OR nisn LIKE ?", like, like)
	}
	if k := c.Query("kelas"); k != "" {
		q = q.Where("kelas = ?", k)
	}
	if st := c.Query("status"); st != "" {
		q = q.Where("status = ?", st)
	}
	var students []models.Student
	if err := q.Order("name").Find(&students).Error; err != nil {
		respondError(c, err)
		return
	}
	ids := make([]uint, len(students))
	for i, s := range students {
		ids[i] = s.ID
	}
	stats, err := studentPaymentStats(reqDB(c), ids, time.Now().In(cfg.Location()))
	if err != nil {
		respondError(c, err)
		return
	}
	rows := make([]studentRow, len(students))
	for i, s := range students {
		rows[i].Student = s
		if st, ok := stats[s.ID]; ok {
			rows[i].paymentStats = *st
		}
	}
	c.JSON(http.StatusOK, rows)
}

type billRow struct {
	models.Bill
	PaidAmount int64 `json:"paid_amount"`
	Remaining  int64 `json:"remaining"`
}

func billRows(c *gin.Context, bills []models.Bill) ([]billRow, error) {
	ids := make([]uint, len(bills))
	for i, b := range bills {
		ids[i] = b.ID
	}
	paid, err := ledgerSvc.BillPaidAmounts(reqCtx(c), ids)
	if err != nil {
		return nil, err
	}
	rows := make([]billRow, len(bills))
	for i, b := range bills {
		rows[i] = billRow{Bill: b, PaidAmount: paid[b.ID], Remaining: b.Amount - paid[b.ID]}
		if rows[i].Remaining < 0 {
			rows[i].Remaining = 0
		}
	}
	return rows, nil
}

func getStudentHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var s models.Student
	if err := reqDB(c).First(&s, id).Error; err != nil {
		respondError(c, ledger.ErrStudentNotFound)
		return
	}
	var payments []models.Transaction
	if err := reqDB(c).Where("student_id = ?", id).Order("date desc, id desc").Find(&payments).Error; err != nil {
		respondError(c, err)
		return
	}
	var bills []models.Bill
	if err := reqDB(c).Where("student_id = ?", id).Order("created_at desc").Find(&bills).Error; err != nil {
		respondError(c, err)
		return
	}
	rows, err := billRows(c, bills)
	if err != nil {
		respondError(c, err)
		return
	}
	stats, err := studentPaymentStats(reqDB(c), []uint{id}, time.Now().In(cfg.Location()))
	if err != nil {
		respondError(c, err)
		return
	}
	st := stats[id]
	if st == nil {
		st = &paymentStats{}
	}
	var unpaid int64
	for _, b := range rows {
		if b.Status != models.BillPaid {
			unpaid += b.Remaining
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"student":       s,
		"payments":      payments,
		"bills":         rows,
		"stats":         st,
		"unpaid_amount": unpaid,
	})
}

func createStudentHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	var req studentRequest
	if !bindJSON(c, &req) {
		return
	}
	s, err := req.student()
	if err != nil {
		respondError(c, err)
		return
	}
	if err := reqDB(c).Create(&s).Error; err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionCreate, audit.TargetStudent, s.ID, gin.H{"name": s.Name, "kelas": s.Kelas})
	c.JSON(http.StatusCreated, gin.H{"message": "Santri berhasil ditambahkan", "student": s})
}

func updateStudentHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)
	var req studentRequest
	if !bindJSON(c, &req) {
		return
	}
	next, err := req.student()
	if err != nil {
		respondError(c, err)
		return
	}
	var s models.Student
	if err := reqDB(c).First(&s, id).Error; err != nil {
		respondError(c, ledger.ErrStudentNotFound)
		return
	}
	before := studentFields(s)
	if err := reqDB(c).Model(&s).Updates(studentFields(next)).Error; err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionUpdate, audit.TargetStudent, id, audit.Diff(before, studentFields(next)))
	if err := reqDB(c).First(&s, id).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Data santri berhasil diperbarui", "student": s})
}

// deleteStudentHandler refuses to delete a student still referenced by transactions or bills.
func deleteStudentHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)
	var s models.Student
	if err := reqDB(c).First(&s, id).Error; err != nil {
		respondError(c, ledger.ErrStudentNotFound)
		return
	}
	var nt, nb int64
	if err := reqDB(c).Model(&models.Transaction{}).Where("student_id = ?", id).Count(&nt).Error; err != nil {
		respondError(c, err)
		return
	}
	if err := reqDB(c).Model(&models.Bill{}).Where("student_id = ?", id).Count(&nb).Error; err != nil {
		respondError(c, err)
		return
	}
	if nt+nb > 0 {
		respondError(c, errStudentInUse)
		return
	}
	if err := reqDB(c).Delete(&models.Student{}, id).Error; err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionDelete, audit.TargetStudent, id, gin.H{"name": s.Name})
	c.JSON(http.StatusOK, gin.H{"message": "Santri berhasil dihapus"})
}

// createStudentPaymentHandler records an income of the current user from a student.
func createStudentPaymentHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)
	var req struct {
		Amount      int64  `json:"amount"`
		Date        string `json:"date"`
		Description string `json:"description"`
	}
	if !bindJSON(c, &req) {
		return
	}
	now := time.Now().In(cfg.Location())
	if req.Date == "" {
		req.Date = now.Format("2006-01-02")
	}
	sid := id
	tr := transactionRequest{
		Type:        models.TypeIncome,
		Category:    ledger.PaymentCategory,
		Amount:      req.Amount,
		Description: req.Description,
		Date:        req.Date,
		StudentID:   &sid,
	}
	e, err := tr.entry()
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := ledgerSvc.CreateTransaction(reqCtx(c), user.ID, e)
	if err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionPay, audit.TargetStudent, id, transactionMeta(res.Transaction))
	c.JSON(http.StatusCreated, gin.H{
		"message":     "Pembayaran berhasil dicatat",
		"transaction": res.Transaction,
		"balance":     res.Balance,
	})
}
