package httpserver

const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Meter Ledger</title></head>
<body>
<h1>Meter Ledger</h1>
<ul>
  <li><code>POST /register_account?meter_id=&amp;owner_name=&amp;address=</code></li>
  <li><code>POST /receive_meter_reading?meter_id=&amp;timestamp=&amp;reading=</code></li>
  <li><code>GET /get_consumption?meter_id=&amp;period=last_30min|today|this_week|this_month|last_month</code></li>
  <li><code>GET /get_last_month_bill?meter_id=</code></li>
  <li><code>POST /archive_and_prepare?period=daily|monthly</code></li>
  <li><code>GET /maintenance/status</code> &middot; <code>POST /shutdown</code> &middot; <code>POST /resume</code></li>
  <li><code>GET /healthz</code> &middot; <code>GET /metrics</code></li>
</ul>
</body>
</html>
`
