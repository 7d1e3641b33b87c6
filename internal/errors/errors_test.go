package errors_test

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
)

var _ = Describe("errors tests", func() {
	Describe("classified errors", func() {
		var errCfg error
		BeforeEach(func() {
			errCfg = migerr.Configurationf("normalize", "unsupported type %s", "pgtype.Interval")
		})

		When("An error is a configuration error", func() {
			It("Should be comparable with errors.As()", func() {
				var e *migerr.Error
				Expect(errors.As(errCfg, &e)).To(BeTrue())
				Expect(e.Category).To(Equal(migerr.Configuration))
			})
			It("Should print out the operation and the cause", func() {
				Expect(errCfg.Error()).To(ContainSubstring("normalize"))
				Expect(errCfg.Error()).To(ContainSubstring("pgtype.Interval"))
			})
			It("Should not be retryable", func() {
				Expect(migerr.IsRetryable(errCfg)).To(BeFalse())
				Expect(migerr.IsConfiguration(errCfg)).To(BeTrue())
			})
		})
		When("An error wraps a configuration error", func() {
			It("Should keep its category", func() {
				wrapped := fmt.Errorf("batch 4: %w", errCfg)
				Expect(migerr.CategoryOf(wrapped)).To(Equal(migerr.Configuration))
				Expect(migerr.IsRetryable(wrapped)).To(BeFalse())
			})
		})
		When("An error is not classified", func() {
			It("Should be treated as transient", func() {
				plain := fmt.Errorf("connection reset by peer")
				Expect(migerr.CategoryOf(plain)).To(Equal(migerr.Transient))
				Expect(migerr.IsRetryable(plain)).To(BeTrue())
			})
		})
		When("An error is fatal", func() {
			It("Should not be retryable", func() {
				fatal := migerr.NewFatal("connect", fmt.Errorf("no route to host"))
				Expect(migerr.IsFatal(fatal)).To(BeTrue())
				Expect(migerr.IsRetryable(fatal)).To(BeFalse())
			})
		})
	})

	Describe("special cases", func() {
		It("Should never retry a cancelled context", func() {
			err := migerr.NewTransient("fetch", context.Canceled)
			Expect(migerr.IsRetryable(err)).To(BeFalse())
		})
		It("Should never retry a checkpoint write failure", func() {
			err := fmt.Errorf("batch 2: %w", migerr.ErrCheckpoint)
			Expect(migerr.IsRetryable(err)).To(BeFalse())
		})
		It("Should report nil as not retryable", func() {
			Expect(migerr.IsRetryable(nil)).To(BeFalse())
			Expect(migerr.IsConfiguration(nil)).To(BeFalse())
		})
	})
})
