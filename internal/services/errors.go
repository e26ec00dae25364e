package services

import "errors"

// Client-facing failures. Their messages are safe to return to callers;
// anything else surfacing from this package is an internal error.
var (
	ErrValidation      = errors.New("order id and otp are required")
	ErrOrderNotFound   = errors.New("order not found")
	ErrNoContact       = errors.New("order has no usable customer contact")
	ErrOTPNotFound     = errors.New("no active OTP for this order")
	ErrTooManyAttempts = errors.New("too many failed attempts, request a new OTP")
	ErrExpired         = errors.New("OTP has expired, request a new one")
	ErrInvalidOTP      = errors.New("invalid OTP")
	ErrOrderClosed     = errors.New("order is already completed or cancelled")
)
