package validation

import "time"

// StudentInput is the raw student form.
type StudentInput struct {
	Name         string
	NISN         string
	Kelas        string
	JenisKelamin string
	Phone        string
	ParentName   string
	ParentPhone  string
	Alamat       string
}

// Student validates every field and returns the normalized form. The first failure wins.
func Student(in StudentInput) (StudentInput, error) {
	var (
		out StudentInput
		err error
	)
	if out.Name, err = Name(in.Name, "Nama Santri"); err != nil {
		return out, err
	}
	if out.NISN, err = NISN(in.NISN); err != nil {
		return out, err
	}
	if out.Kelas, err = Kelas(in.Kelas); err != nil {
		return out, err
	}
	if out.JenisKelamin, err = Gender(in.JenisKelamin); err != nil {
		return out, err
	}
	if out.Phone, err = Phone(in.Phone, "Nomor HP Santri"); err != nil {
		return out, err
	}
	if out.ParentName, err = Name(in.ParentName, "Nama Orang Tua"); err != nil {
		return out, err
	}
	if out.ParentPhone, err = Phone(in.ParentPhone, "Nomor HP Orang Tua"); err != nil {
		return out, err
	}
	if out.Alamat, err = Alamat(in.Alamat); err != nil {
		return out, err
	}
	return out, nil
}

// TransactionInput is the raw transaction form.
type TransactionInput struct {
	Type        string
	Category    string
	Amount      int64
	Description string
	Date        string
	StudentID   *uint
}

// TransactionData is a validated transaction.
type TransactionData struct {
	Type        string
	Category    string
	Amount      int64
	Description string
	Date        time.Time
	StudentID   *uint
}

// Transaction validates a transaction form relative to now.
func Transaction(in TransactionInput, now time.Time) (TransactionData, error) {
	var (
		out TransactionData
		err error
	)
	if out.Type, err = TransactionType(in.Type); err != nil {
		return out, err
	}
	if out.Category, err = Category(in.Category); err != nil {
		return out, err
	}
	if out.Amount, err = Amount(in.Amount, "Jumlah"); err != nil {
		return out, err
	}
	if out.Description, err = Description(in.Description); err != nil {
		return out, err
	}
	if out.Date, err = DateAt(in.Date, "Tanggal", now); err != nil {
		return out, err
	}
	if in.StudentID != nil && *in.StudentID == 0 {
		return out, fail("Santri", "ID Santri tidak valid")
	}
	out.StudentID = in.StudentID
	return out, nil
}

// UserInput is the raw user form.
type UserInput struct {
	Username string
	Email    string
	FullName string
	Role     string
}

// User validates the user form.
func User(in UserInput) (UserInput, error) {
	var (
		out UserInput
		err error
	)
	if out.Username, err = Username(in.Username); err != nil {
		return out, err
	}
	if out.Email, err = Email(in.Email); err != nil {
		return out, err
	}
	if out.FullName, err = Name(in.FullName, "Nama Lengkap"); err != nil {
		return out, err
	}
	if out.Role, err = Role(in.Role); err != nil {
		return out, err
	}
	return out, nil
}
