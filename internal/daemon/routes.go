// Copyright 2025 The adwd Authors
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

package daemon

import "encoding/json"

// routeList is the API surface published on the routes topic.
var routeList = []map[string]string{
	{"method": "POST", "path": "/webhook"},
	{"method": "POST", "path": "/api/v1/webhook"},
	{"method": "GET", "path": "/api/v1/webhook-status"},
	{"method": "GET", "path": "/api/v1/health"},
	{"method": "GET", "path": "/api/v1/workflows"},
	{"method": "DELETE", "path": "/api/v1/workflows/{id}"},
	{"method": "POST", "path": "/api/v1/workflows/batch"},
	{"method": "GET", "path": "/api/v1/workflow-history"},
	{"method": "GET", "path": "/api/v1/workflow-history/analytics"},
	{"method": "POST", "path": "/api/v1/workflow-history/sync"},
	{"method": "POST", "path": "/api/v1/workflow-history/resync"},
	{"method": "POST", "path": "/api/v1/request"},
	{"method": "GET", "path": "/api/v1/preview/{id}/cost"},
	{"method": "POST", "path": "/api/v1/preview/{id}/confirm"},
	{"method": "DELETE", "path": "/api/v1/preview/{id}"},
	{"method": "GET", "path": "/api/v1/services"},
	{"method": "POST", "path": "/api/v1/services/{name}/{action}"},
	{"method": "POST", "path": "/api/v1/github-webhook/redeliver"},
	{"method": "GET", "path": "/metrics"},
	{"method": "GET", "path": "/ws/{topic}"},
}

// jsonRaw wraps pre-encoded JSON so providers can pass files through
// without re-marshaling.
func jsonRaw(data []byte) json.RawMessage {
	return json.RawMessage(data)
}
