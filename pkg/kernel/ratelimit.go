// Copyright 2025 The Kestrel Authors.
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

package kernel

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// rateLimitedLog drops log lines beyond its rate. Interrupt and
// scheduling paths run once per trap; unthrottled logging there buries
// everything else.
type rateLimitedLog struct {
	log     *logrus.Entry
	limiter *rate.Limiter
}

func newRateLimitedLog(log *logrus.Entry, r rate.Limit, burst int) *rateLimitedLog {
	return &rateLimitedLog{
		log:     log,
		limiter: rate.NewLimiter(r, burst),
	}
}

// debugf logs if the limiter allows, and silently drops otherwise.
func (l *rateLimitedLog) debugf(format string, args ...interface{}) {
	if l.limiter.Allow() {
		l.log.Debugf(format, args...)
	}
}
