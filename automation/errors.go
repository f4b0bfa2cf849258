package automation

import "errors"

var (
	ErrSequenceNotFound             = errors.New("sequence not found")
	ErrSequenceInactive             = errors.New("cannot enroll in inactive sequence")
	ErrSequenceHasActiveEnrollments = errors.New("sequence has active enrollments")
	ErrInvalidSequence              = errors.New("invalid sequence definition")
	ErrLeadNotFound                 = errors.New("lead not found")
	ErrLeadNotContactable           = errors.New("lead does not have a usable email address")
	ErrAlreadyEnrolled              = errors.New("lead is already enrolled in this sequence")
	ErrEnrollmentNotFound           = errors.New("enrollment not found")
	ErrEnrollmentNotActive          = errors.New("enrollment is not active")
)
