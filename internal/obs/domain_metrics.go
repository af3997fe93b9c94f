package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentInitializeTotal counts payment initialization outcomes.
	PaymentInitializeTotal *prometheus.CounterVec
	// PaymentVerifyTotal counts verification passes by resulting status.
	PaymentVerifyTotal *prometheus.CounterVec
	// PaymentOTPTotal counts OTP confirmation outcomes.
	PaymentOTPTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound provider webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentInitializeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_initialize_total",
			Help:      "Count of payment initialization outcomes.",
		}, []string{"provider", "result"})
		PaymentVerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_verify_total",
			Help:      "Count of payment verification passes by resulting status.",
		}, []string{"provider", "status"})
		PaymentOTPTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_otp_total",
			Help:      "Count of OTP confirmation outcomes.",
		}, []string{"provider", "result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})

		reg.MustRegister(PaymentInitializeTotal, PaymentVerifyTotal, PaymentOTPTotal, PaymentWebhookTotal)
	})
}
