// Copyright 2026 OpenElect Contributors
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

package review

// Disposition is the routing outcome for a freshly digitized paper ballot
type Disposition int

const (
	RouteQueue Disposition = iota
	RouteAutoApprove
	RouteReject
)

func (d Disposition) String() string {
	switch d {
	case RouteAutoApprove:
		return "auto-approve"
	case RouteReject:
		return "reject"
	default:
		return "queue"
	}
}

// Thresholds is the election-configured routing policy. AutoApprove of
// zero disables auto-approval entirely; Review of zero disables
// automatic rejection. Thresholds are fixed once voting opens.
type Thresholds struct {
	AutoApprove float64
	Review      float64
}

// Route decides where a digitization result goes based on its aggregate
// confidence. Pure function, tested independently of any I/O.
func Route(confidence float64, cfg Thresholds) Disposition {
	if cfg.AutoApprove > 0 && confidence >= cfg.AutoApprove {
		return RouteAutoApprove
	}
	if cfg.Review > 0 && confidence < cfg.Review {
		return RouteReject
	}
	return RouteQueue
}
