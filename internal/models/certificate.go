package models

import "time"

// Certificate is the derived, non-persisted proof of course completion.
type Certificate struct {
	Number      string    `json:"number"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name"`
	CourseID    string    `json:"course_id"`
	CourseTitle string    `json:"course_title"`
	IssuedAt    time.Time `json:"issued_at"`
	Fingerprint string    `json:"fingerprint"`
	Body        string    `json:"body"`
	PDF         []byte    `json:"-"`
}

// CertificateLink is a signed, expiring download URL for an archived certificate.
type CertificateLink struct {
	Number    string    `json:"number"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
