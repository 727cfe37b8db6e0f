// Package validation holds the field validators used before anything is written. Every
// validator returns the normalized value or an *Error carrying a message for the user.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"ponpay/pkg/rupiah"

	"github.com/go-playground/validator/v10"
)

const (
	MinAmount = 100
	MaxAmount = 100000000
)

// Error is a field level validation failure.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string { return e.Message }

func fail(field, format string, args ...interface{}) error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

var (
	usernameRE    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	upperRE       = regexp.MustCompile(`[A-Z]`)
	lowerRE       = regexp.MustCompile(`[a-z]`)
	digitRE       = regexp.MustCompile(`\d`)
	nameRE        = regexp.MustCompile(`^[a-zA-Z\s'-]+$`)
	spacesRE      = regexp.MustCompile(`\s{2,}`)
	nisnRE        = regexp.MustCompile(`^\d{10}$`)
	phoneStripRE  = regexp.MustCompile(`[-\s()]`)
	phoneRE       = regexp.MustCompile(`^8\d{8,11}$`)
	categoryRE    = regexp.MustCompile(`^[a-zA-Z0-9\s\-/()]+$`)
	kelasPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^kelas \d+$`),
		regexp.MustCompile(`^\d+$`),
		regexp.MustCompile(`(?i)^[IVXLCDM]+$`),
		regexp.MustCompile(`^[a-zA-Z]+\s*\d*$`),
		regexp.MustCompile(`(?i)^[IVXLCDM\d]+\s*[A-Z]$`),
	}
)

var (
	reservedUsernames = []string{"admin", "root", "system", "superuser", "administrator"}
	weakPasswords     = []string{"password", "123456", "admin123", "qwerty", "password123"}
	dangerousPatterns = []string{"<script", "javascript:", "onload=", "onerror="}
)

var validate = validator.New()

// Required trims value and fails when nothing is left.
func Required(value, field string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fail(field, "%s wajib diisi", field)
	}
	return v, nil
}

// Username checks length, charset and reserved names.
func Username(s string) (string, error) {
	u, err := Required(s, "Username")
	if err != nil {
		return "", err
	}
	if len(u) < 3 || len(u) > 50 {
		return "", fail("Username", "Username harus 3-50 karakter")
	}
	if !usernameRE.MatchString(u) {
		return "", fail("Username", "Username hanya boleh huruf, angka, underscore (_), dan dash (-)")
	}
	for _, r := range reservedUsernames {
		if strings.EqualFold(u, r) {
			return "", fail("Username", "Username tidak diperbolehkan")
		}
	}
	return u, nil
}

// Password enforces a minimum length of 8 with upper case, lower case and a digit.
func Password(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", fail("Password", "Password wajib diisi")
	}
	if len(s) < 8 {
		return "", fail("Password", "Password minimal 8 karakter")
	}
	if !upperRE.MatchString(s) {
		return "", fail("Password", "Password harus mengandung huruf besar")
	}
	if !lowerRE.MatchString(s) {
		return "", fail("Password", "Password harus mengandung huruf kecil")
	}
	if !digitRE.MatchString(s) {
		return "", fail("Password", "Password harus mengandung angka")
	}
	for _, w := range weakPasswords {
		if strings.EqualFold(s, w) {
			return "", fail("Password", "Password terlalu lemah")
		}
	}
	return s, nil
}

// Email is optional; an empty value returns "".
func Email(s string) (string, error) {
	e := strings.TrimSpace(s)
	if e == "" {
		return "", nil
	}
	if len(e) > 255 {
		return "", fail("Email", "Email terlalu panjang")
	}
	if err := validate.Var(e, "email"); err != nil {
		return "", fail("Email", "Format email tidak valid")
	}
	return e, nil
}

// Amount checks v against MinAmount and MaxAmount.
func Amount(v int64, field string) (int64, error) {
	return AmountRange(v, field, MinAmount, MaxAmount)
}

// AmountRange checks min <= v <= max.
func AmountRange(v int64, field string, min, max int64) (int64, error) {
	if v < min {
		return 0, fail(field, "%s minimal %s", field, rupiah.Format(min))
	}
	if v > max {
		return 0, fail(field, "%s maksimal %s", field, rupiah.Format(max))
	}
	return v, nil
}

// Date parses a YYYY-MM-DD value no more than 10 years back and 1 year ahead of today.
func Date(s, field string) (time.Time, error) {
	return DateAt(s, field, time.Now())
}

// DateAt is Date relative to now.
func DateAt(s, field string, now time.Time) (time.Time, error) {
	v, err := Required(s, field)
	if err != nil {
		return time.Time{}, err
	}
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fail(field, "%s harus dalam format YYYY-MM-DD", field)
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d.Before(today.AddDate(-10, 0, 0)) {
		return time.Time{}, fail(field, "%s tidak boleh lebih dari 10 tahun yang lalu", field)
	}
	if d.After(today.AddDate(1, 0, 0)) {
		return time.Time{}, fail(field, "%s tidak boleh lebih dari 1 tahun ke depan", field)
	}
	return d, nil
}

// OptionalDate is DateAt that accepts an empty value as nil.
func OptionalDate(s, field string, now time.Time) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := DateAt(s, field, now)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Name allows letters, spaces, apostrophes and dashes, up to 100 characters.
func Name(s, field string) (string, error) {
	n, err := Required(s, field)
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(n) > 100 {
		return "", fail(field, "%s maksimal 100 karakter", field)
	}
	if !nameRE.MatchString(n) {
		return "", fail(field, "%s hanya boleh huruf, spasi, apostrof (') dan dash (-)", field)
	}
	if spacesRE.MatchString(n) {
		return "", fail(field, "%s tidak boleh mengandung spasi berurutan", field)
	}
	return n, nil
}

// NISN is optional; when present it must be exactly 10 digits.
func NISN(s string) (string, error) {
	n := strings.TrimSpace(s)
	if n == "" {
		return "", nil
	}
	if !nisnRE.MatchString(n) {
		return "", fail("NISN", "NISN harus 10 digit angka")
	}
	return n, nil
}

// Phone is optional. Separators and the +62/62/0 prefix are removed and the number is returned
// in the local 08xx form.
func Phone(s, field string) (string, error) {
	p := strings.TrimSpace(s)
	if p == "" {
		return "", nil
	}
	p = phoneStripRE.ReplaceAllString(p, "")
	switch {
	case strings.HasPrefix(p, "+62"):
		p = p[3:]
	case strings.HasPrefix(p, "62"):
		p = p[2:]
	case strings.HasPrefix(p, "0"):
		p = p[1:]
	}
	if !phoneRE.MatchString(p) {
		return "", fail(field, "%s harus nomor Indonesia valid (contoh: 08123456789)", field)
	}
	return "0" + p, nil
}

// Kelas accepts "Kelas 7", "7", roman numerals and short forms like "VII A" or "7A".
func Kelas(s string) (string, error) {
	k, err := Required(s, "Kelas")
	if err != nil {
		return "", err
	}
	for _, re := range kelasPatterns {
		if re.MatchString(k) {
			return k, nil
		}
	}
	return "", fail("Kelas", "Format kelas tidak valid")
}

// Gender returns "Laki-laki" or "Perempuan".
func Gender(s string) (string, error) {
	g, err := Required(s, "Jenis Kelamin")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(g) {
	case "laki-laki":
		return "Laki-laki", nil
	case "perempuan":
		return "Perempuan", nil
	}
	return "", fail("Jenis Kelamin", "Jenis kelamin harus 'Laki-laki' atau 'Perempuan'")
}

func hasDangerousContent(s string) bool {
	l := strings.ToLower(s)
	for _, p := range dangerousPatterns {
		if strings.Contains(l, p) {
			return true
		}
	}
	return false
}

// Alamat is optional, up to 255 characters, and rejects markup.
func Alamat(s string) (string, error) {
	a := strings.TrimSpace(s)
	if a == "" {
		return "", nil
	}
	if utf8.RuneCountInString(a) > 255 {
		return "", fail("Alamat", "Alamat maksimal 255 karakter")
	}
	if hasDangerousContent(a) {
		return "", fail("Alamat", "Alamat mengandung konten tidak diperbolehkan")
	}
	return a, nil
}

// Category allows letters, digits, spaces, dashes, slashes and parentheses.
func Category(s string) (string, error) {
	c, err := Required(s, "Kategori")
	if err != nil {
		return "", err
	}
	if len(c) > 100 {
		return "", fail("Kategori", "Kategori maksimal 100 karakter")
	}
	if !categoryRE.MatchString(c) {
		return "", fail("Kategori", "Kategori hanya boleh huruf, angka, spasi, dash (-), slash (/), dan tanda kurung")
	}
	return c, nil
}

// Description is optional, up to 500 characters, and rejects markup.
func Description(s string) (string, error) {
	d := strings.TrimSpace(s)
	if d == "" {
		return "", nil
	}
	if utf8.RuneCountInString(d) > 500 {
		return "", fail("Keterangan", "Keterangan maksimal 500 karakter")
	}
	if hasDangerousContent(d) {
		return "", fail("Keterangan", "Keterangan mengandung konten tidak diperbolehkan")
	}
	return d, nil
}

// Title is a required bill title of at most 150 characters.
func Title(s string) (string, error) {
	t, err := Required(s, "Judul")
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(t) > 150 {
		return "", fail("Judul", "Judul maksimal 150 karakter")
	}
	if hasDangerousContent(t) {
		return "", fail("Judul", "Judul mengandung konten tidak diperbolehkan")
	}
	return t, nil
}

// TransactionType accepts income or expense.
func TransactionType(s string) (string, error) {
	switch t := strings.ToLower(strings.TrimSpace(s)); t {
	case "income", "expense":
		return t, nil
	}
	return "", fail("Tipe", "Tipe transaksi harus 'income' atau 'expense'")
}

// Role accepts admin, staff or user.
func Role(s string) (string, error) {
	r, err := Required(s, "Role")
	if err != nil {
		return "", err
	}
	switch r = strings.ToLower(r); r {
	case "admin", "staff", "user":
		return r, nil
	}
	return "", fail("Role", "Role harus 'admin', 'staff', atau 'user'")
}

// StudentStatus accepts aktif, nonaktif or lulus. Empty means aktif.
func StudentStatus(s string) (string, error) {
	switch st := strings.ToLower(strings.TrimSpace(s)); st {
	case "":
		return "aktif", nil
	case "aktif", "nonaktif", "lulus":
		return st, nil
	}
	return "", fail("Status", "Status harus 'aktif', 'nonaktif', atau 'lulus'")
}
