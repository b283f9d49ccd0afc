// Copyright 2024 The Armored Witness ROM authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/transparency-dev/armored-witness-rom/api"
)

// Metrics tracks boot outcomes.
type Metrics struct {
	Registry *prometheus.Registry

	boots       *prometheus.CounterVec
	csrUploads  prometheus.Counter
	accSpins    prometheus.Counter
	mailboxSpin prometheus.Counter
	svn         *prometheus.GaugeVec
}

// NewMetrics returns metrics registered on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		boots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rom",
			Name:      "boots_total",
			Help:      "Boot attempts by reset kind and result.",
		}, []string{"reset", "result"}),
		csrUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rom",
			Name:      "idevid_csr_uploads_total",
			Help:      "IDevID CSRs handed over through the mailbox.",
		}),
		accSpins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rom",
			Name:      "sha_acc_busy_polls_total",
			Help:      "Polls of a busy SHA-384 accelerator.",
		}),
		mailboxSpin: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rom",
			Name:      "mailbox_polls_total",
			Help:      "Polls spent waiting on the mailbox and its consumer.",
		}),
		svn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "rom",
			Name:      "booted_svn",
			Help:      "SVN of the last booted image by firmware role.",
		}, []string{"role"}),
	}

	m.Registry.MustRegister(m.boots, m.csrUploads, m.accSpins, m.mailboxSpin, m.svn)

	return m
}

func (m *Metrics) observe(s *api.Status, accSpins, mailboxSpins int) {
	if m == nil {
		return
	}

	reset := "cold"
	if s.WarmBoot {
		reset = "warm"
	}

	result := "ok"
	if s.Error != api.ErrorCode_NONE {
		result = s.Error.String()
	}

	m.boots.WithLabelValues(reset, result).Inc()
	m.accSpins.Add(float64(accSpins))
	m.mailboxSpin.Add(float64(mailboxSpins))

	if s.CSRUploaded {
		m.csrUploads.Inc()
	}

	if s.Error == api.ErrorCode_NONE {
		m.svn.WithLabelValues("fmc").Set(float64(s.FMCSVN))
		m.svn.WithLabelValues("runtime").Set(float64(s.RuntimeSVN))
	}
}

// WriteToTextfile writes the metrics in the text exposition format, for
// collection by a node exporter.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
