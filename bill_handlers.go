package main

import (
	"fmt"
	"net/http"
	"time"

	"ponpay/models"
	"ponpay/pkg/audit"
	"ponpay/pkg/ledger"
	"ponpay/pkg/rupiah"
	"ponpay/pkg/validation"

	"github.com/gin-gonic/gin"
)

type billRequest struct {
	StudentID  uint   `json:"student_id"`
	StudentIDs []uint `json:"student_ids"`
	Title      string `json:"title"`
	Amount     int64  `json:"amount"`
	DueDate    string `json:"due_date"`
}

func (r billRequest) input() (ledger.BillInput, error) {
	var (
		in  ledger.BillInput
		err error
	)
	if in.Title, err = validation.Title(r.Title); err != nil {
		return in, err
	}
	if in.Amount, err = validation.Amount(r.Amount, "Jumlah"); err != nil {
		return in, err
	}
	if in.DueDate, err = validation.OptionalDate(r.DueDate, "Jatuh Tempo", time.Now().In(cfg.Location())); err != nil {
		return in, err
	}
	return in, nil
}

func findBill(c *gin.Context, id uint) (*models.Bill, bool) {
	var b models.Bill
	if err := reqDB(c).Preload("Student").First(&b, id).Error; err != nil {
		respondError(c, ledger.ErrBillNotFound)
		return nil, false
	}
	return &b, true
}

func listBillsHandler(c *gin.Context) {
	q := reqDB(c).Model(&models.Bill{}).Preload("Student")
	if st := c.Query("status"); st != "" {
		q = q.Where("status = ?", st)
	}
	if sid := queryUint(c, "student_id"); sid != 0 {
		q = q.Where("student_id = ?", sid)
	}
	var bills []models.Bill
	if err := q.Order("created_at desc, id desc").Find(&bills).Error; err != nil {
		respondError(c, err)
		return
	}
	rows, err := billRows(c, bills)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// createBillsHandler creates one bill per student in student_ids (or student_id).
func createBillsHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	var req billRequest
	if !bindJSON(c, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		respondError(c, err)
		return
	}
	ids := req.StudentIDs
	if req.StudentID != 0 {
		ids = append(ids, req.StudentID)
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Pilih minimal satu santri", "field": "Santri"})
		return
	}
	bills, err := ledgerSvc.CreateBills(reqCtx(c), user.ID, ids, in)
	if err != nil {
		respondError(c, err)
		return
	}
	for _, b := range bills {
		history.Record(reqCtx(c), user.ID, audit.ActionCreate, audit.TargetBill, b.ID, gin.H{"title": b.Title, "amount": b.Amount, "student_id": b.StudentID})
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": fmt.Sprintf("%d tagihan berhasil dibuat", len(bills)),
		"bills":   bills,
	})
}

func getBillHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	b, ok := findBill(c, id)
	if !ok {
		return
	}
	var payments []models.Transaction
	if err := reqDB(c).Where("bill_id = ?", id).Order("date desc, id desc").Find(&payments).Error; err != nil {
		respondError(c, err)
		return
	}
	rows, err := billRows(c, []models.Bill{*b})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bill": rows[0], "payments": payments})
}

func updateBillHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)
	var req billRequest
	if !bindJSON(c, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		respondError(c, err)
		return
	}
	st, err := ledgerSvc.UpdateBill(reqCtx(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionUpdate, audit.TargetBill, id, gin.H{"title": in.Title, "amount": in.Amount, "status": st.Bill.Status})
	c.JSON(http.StatusOK, gin.H{
		"message": "Tagihan berhasil diperbarui",
		"bill":    billRow{Bill: st.Bill, PaidAmount: st.PaidAmount, Remaining: st.Remaining},
	})
}

func deleteBillHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)
	if err := ledgerSvc.DeleteBill(reqCtx(c), id); err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionDelete, audit.TargetBill, id, nil)
	c.JSON(http.StatusOK, gin.H{"message": "Tagihan berhasil dihapus"})
}

// paymentDate is the requested date, or today in the configured timezone when none was given.
func paymentDate(date *time.Time, now time.Time) time.Time {
	if date != nil {
		return *date
	}
	return now
}

// payBillHandler records a payment of the current user against a bill.
func payBillHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	user, _ := getUserFromContext(c)
	var req struct {
		Amount int64  `json:"amount"`
		Date   string `json:"date"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.Amount <= 0 {
		respondError(c, ledger.ErrInvalidAmount)
		return
	}
	now := time.Now().In(cfg.Location())
	date, err := validation.OptionalDate(req.Date, "Tanggal", now)
	if err != nil {
		respondError(c, err)
		return
	}
	p, err := ledgerSvc.PayBill(reqCtx(c), user.ID, id, req.Amount, paymentDate(date, now))
	if err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionPay, audit.TargetBill, id, gin.H{"title": p.Bill.Title, "amount": req.Amount})

	msg := fmt.Sprintf("Pembayaran %s berhasil. Sisa tagihan: %s", rupiah.Format(req.Amount), rupiah.Format(p.Remaining))
	if p.Bill.Status == models.BillPaid {
		msg = fmt.Sprintf("Pembayaran %s berhasil. Tagihan '%s' sekarang Lunas.", rupiah.Format(req.Amount), p.Bill.Title)
	}
	c.JSON(http.StatusOK, gin.H{
		"message":     msg,
		"transaction": p.Transaction,
		"bill":        billRow{Bill: p.Bill, PaidAmount: p.PaidAmount, Remaining: p.Remaining},
		"balance":     p.Balance,
	})
}

// billReceiptHandler returns the data printed on a kwitansi for the latest payment of a bill.
func billReceiptHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	b, ok := findBill(c, id)
	if !ok {
		return
	}
	var t models.Transaction
	if err := reqDB(c).Preload("User").Where("bill_id = ?", id).Order("created_at desc, id desc").First(&t).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Kuitansi transaksi tidak ditemukan untuk tagihan ini"})
		return
	}
	paid, err := ledgerSvc.BillPaidAmount(reqCtx(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	var pondok models.Setting
	reqDB(c).Where(models.Setting{Key: models.SettingPondokName}).First(&pondok)
	receipt := gin.H{
		"receipt_no":   fmt.Sprintf("KW-%s-%05d", t.Date.Format("200601"), t.ID),
		"pondok_name":  pondok.Value,
		"date":         t.Date.Format("2006-01-02"),
		"amount":       t.Amount,
		"amount_text":  rupiah.Format(t.Amount),
		"bill_title":   b.Title,
		"bill_amount":  b.Amount,
		"paid_amount":  paid,
		"remaining":    max(b.Amount-paid, 0),
		"status":       b.Status,
		"received_by":  t.User.FullName,
		"student_name": "",
		"kelas":        "",
	}
	if b.Student != nil {
		receipt["student_name"] = b.Student.Name
		receipt["kelas"] = b.Student.Kelas
	}
	c.JSON(http.StatusOK, receipt)
}
