package main

import (
	"errors"
	"fmt"
	"net/http"

	"ponpay/pkg/audit"
	"ponpay/pkg/ledger"
	"ponpay/pkg/rupiah"
	"ponpay/pkg/validation"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var (
	errStudentInUse  = errors.New("student has transactions or bills")
	errUserInUse     = errors.New("user owns transactions")
	errSelfDelete    = errors.New("cannot delete own account")
	errWrongPassword = errors.New("current password does not match")
)

type errorMapping struct {
	err     error
	status  int
	message string
}

// errorTable maps sentinel errors to a status and the message shown to the user.
var errorTable = []errorMapping{
	{ledger.ErrInvalidAmount, http.StatusBadRequest, "Jumlah harus lebih dari 0"},
	{ledger.ErrInvalidType, http.StatusBadRequest, "Tipe transaksi harus 'income' atau 'expense'"},
	{ledger.ErrInvalidDate, http.StatusBadRequest, "Tanggal wajib diisi"},
	{ledger.ErrInvalidTitle, http.StatusBadRequest, "Judul tagihan wajib diisi"},
	{ledger.ErrTransactionNotFound, http.StatusNotFound, "Transaksi tidak ditemukan"},
	{ledger.ErrBillNotFound, http.StatusNotFound, "Tagihan tidak ditemukan"},
	{ledger.ErrStudentNotFound, http.StatusNotFound, "Santri tidak ditemukan"},
	{ledger.ErrWalletNotFound, http.StatusNotFound, "Dompet tidak ditemukan"},
	{ledger.ErrBillAlreadyPaid, http.StatusConflict, "Tagihan sudah lunas"},
	{ledger.ErrBillHasPayments, http.StatusConflict, "Tagihan sudah memiliki pembayaran dan tidak dapat dihapus"},
	{ledger.ErrBillPaymentChanged, http.StatusBadRequest, "Santri dan tipe pembayaran tagihan tidak dapat diubah"},
	{audit.ErrNotFound, http.StatusNotFound, "Riwayat tidak ditemukan"},
	{gorm.ErrRecordNotFound, http.StatusNotFound, "Data tidak ditemukan"},
	{errUsernameTaken, http.StatusConflict, "Username sudah digunakan"},
	{errUnknownRole, http.StatusBadRequest, "Role tidak dikenal"},
	{errStudentInUse, http.StatusConflict, "Santri masih memiliki transaksi atau tagihan"},
	{errUserInUse, http.StatusConflict, "User masih memiliki transaksi"},
	{errSelfDelete, http.StatusBadRequest, "Tidak dapat menghapus akun sendiri"},
	{errWrongPassword, http.StatusBadRequest, "Password saat ini salah"},
	{errInvalidCredentials, http.StatusUnauthorized, "Username atau password salah"},
}

// respondError writes err as {"error": ...}. Unknown errors are logged and answered with 500.
func respondError(c *gin.Context, err error) {
	var ve *validation.Error
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
		return
	}
	var oe *ledger.OverpaymentError
	if errors.As(err, &oe) {
		c.JSON(http.StatusConflict, gin.H{
			"error":     fmt.Sprintf("Jumlah pembayaran melebihi sisa tagihan (%s)", rupiah.Format(oe.Remaining)),
			"remaining": oe.Remaining,
		})
		return
	}
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			c.JSON(m.status, gin.H{"error": m.message})
			return
		}
	}
	reqLogger(c).WithError(err).Error("unhandled error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// bindJSON decodes the body into dst, answering 400 on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
