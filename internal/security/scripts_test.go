// internal/security/scripts_test.go
package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptAnalyzer_RouteDetectionScenario(t *testing.T) {
	analyzer := NewScriptAnalyzer()
	routes := analyzer.FindRoutes(`const routes=[{path:'/admin',meta:{requiresAuth:true}},{path:'/login'}]`)

	require.Len(t, routes, 2)
	assert.Equal(t, "/admin", routes[0].Path)
	assert.True(t, routes[0].RequiresAuth)
	assert.Equal(t, "/login", routes[1].Path)
	assert.False(t, routes[1].RequiresAuth)
}

func TestScriptAnalyzer_AngularGuardImpliesAuth(t *testing.T) {
	analyzer := NewScriptAnalyzer()
	routes := analyzer.FindRoutes(`RouterModule.forRoot([{path: "secure", component: X, canActivate: [AuthGuard]}])`)
	require.NotEmpty(t, routes)
	assert.Equal(t, "secure", routes[0].Path)
	assert.True(t, routes[0].RequiresAuth)
}

func TestScriptAnalyzer_ReactRouteElements(t *testing.T) {
	analyzer := NewScriptAnalyzer()
	routes := analyzer.FindRoutes(`<Route exact path="/profile" component={Profile} />`)
	require.Len(t, routes, 1)
	assert.Equal(t, "/profile", routes[0].Path)
	assert.Equal(t, FrameworkReact, routes[0].Framework)
}

func TestScriptAnalyzer_WebSocketDiscovery(t *testing.T) {
	analyzer := NewScriptAnalyzer()
	script := `
		const a = new WebSocket("wss://live.example.com/feed");
		const cfg = { wsUrl: "wss://cfg.example.com/io" };
		const raw = "ws://literal.example.com/sock";
	`
	endpoints := analyzer.FindWebSockets(script)
	require.Len(t, endpoints, 3)
	assert.Equal(t, WsDiscoveryConstructor, endpoints[0].Discovery)
	assert.Equal(t, "wss://live.example.com/feed", endpoints[0].URL)
	assert.Equal(t, WsDiscoveryConfig, endpoints[1].Discovery)
	assert.Equal(t, WsDiscoveryLiteral, endpoints[2].Discovery)
}

func TestScriptAnalyzer_APIEndpoints(t *testing.T) {
	analyzer := NewScriptAnalyzer()
	script := `
		fetch("/api/users/1");
		axios.post("/accounts/update", data);
		const base = "https://svc.example.com/v2/things";
	`
	endpoints := analyzer.FindAPIEndpoints(script)
	assert.Contains(t, endpoints, "/api/users/1")
	assert.Contains(t, endpoints, "/accounts/update")
	assert.Contains(t, endpoints, "https://svc.example.com/v2/things")
}

func TestScriptAnalyzer_SinkSweep(t *testing.T) {
	analyzer := NewScriptAnalyzer()
	sinks := analyzer.FindSinks(`
		el.innerHTML = user;
		eval(input);
		document.write(q);
		node.insertAdjacentHTML("beforeend", frag);
	`)
	kinds := map[string]bool{}
	for _, s := range sinks {
		kinds[s.Kind] = true
	}
	assert.True(t, kinds["innerhtml_sink"])
	assert.True(t, kinds["eval"])
	assert.True(t, kinds["document_write_sink"])
	assert.True(t, kinds["insert_adjacent_html"])
}

func TestScriptAnalyzer_FrameworkDetection(t *testing.T) {
	analyzer := NewScriptAnalyzer()
	assert.Equal(t, FrameworkVue, analyzer.DetectFramework(`import {createRouter} from 'vue-router'`))
	assert.Equal(t, FrameworkReact, analyzer.DetectFramework(`ReactDOM.render(<App/>, root)`))
	assert.Equal(t, FrameworkAngular, analyzer.DetectFramework(`RouterModule.forRoot(routes)`))
	assert.Equal(t, FrameworkUnknown, analyzer.DetectFramework(`var x = 1;`))
}

func TestScriptAnalyzer_AnalyzeAllDedupes(t *testing.T) {
	analyzer := NewScriptAnalyzer()
	scripts := []ScriptSource{
		{Content: `fetch("/api/a"); const r = [{path:'/x'}]`},
		{Content: `fetch("/api/a"); const r2 = [{path:'/x', meta:{requiresAuth:true}}]`},
	}
	out := analyzer.AnalyzeAll(scripts)
	assert.Equal(t, []string{"/api/a"}, out.APIEndpoints)
	require.Len(t, out.Routes, 1)
	// The duplicate carrying the auth hint upgrades the kept route.
	assert.True(t, out.Routes[0].RequiresAuth)
}
